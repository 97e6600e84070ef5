package keys

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"pix_processor/internal/domain"
	apperrors "pix_processor/internal/errors"
)

var (
	emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+55[1-9]{2}9?[0-9]{8}$`)
	nonDigits  = regexp.MustCompile(`[^0-9]`)
	phoneNoise = regexp.MustCompile(`[\s()\-.]`)
)

const maxEmailLength = 77

// Normalize validates value against the rules of keyType and returns the
// canonical stored form.
func Normalize(keyType domain.KeyType, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch keyType {
	case domain.KeyNationalID:
		digits := nonDigits.ReplaceAllString(value, "")
		if !ValidNationalID(digits) {
			return "", apperrors.NewValidationError("value", "invalid national id")
		}
		return digits, nil
	case domain.KeyBusinessID:
		digits := nonDigits.ReplaceAllString(value, "")
		if !ValidBusinessID(digits) {
			return "", apperrors.NewValidationError("value", "invalid business id")
		}
		return digits, nil
	case domain.KeyEmail:
		email := strings.ToLower(value)
		if len(email) > maxEmailLength || !emailRegex.MatchString(email) {
			return "", apperrors.NewValidationError("value", "invalid email")
		}
		return email, nil
	case domain.KeyPhone:
		phone := phoneNoise.ReplaceAllString(value, "")
		switch {
		case strings.HasPrefix(phone, "+"):
		case len(phone) >= 12 && strings.HasPrefix(phone, "55"):
			phone = "+" + phone
		default:
			phone = "+55" + phone
		}
		if !phoneRegex.MatchString(phone) {
			return "", apperrors.NewValidationError("value", "invalid phone number")
		}
		return phone, nil
	case domain.KeyRandom:
		parsed, err := uuid.Parse(value)
		if err != nil {
			return "", apperrors.NewValidationError("value", "invalid random key")
		}
		return parsed.String(), nil
	default:
		return "", apperrors.NewValidationError("type", "unknown key type")
	}
}

// Detect infers the type of a key typed by a payer, in the order the
// network disambiguates them: email, prefixed phone, random key, national
// id, business id. Bare digits that fail both checksums are then read as a
// phone number, so an 11-digit value with a valid national id checksum is
// never taken for a phone.
func Detect(value string) (domain.KeyType, string, bool) {
	value = strings.TrimSpace(value)

	if strings.Contains(value, "@") {
		if v, err := Normalize(domain.KeyEmail, value); err == nil {
			return domain.KeyEmail, v, true
		}
		return "", "", false
	}
	if strings.HasPrefix(value, "+") {
		if v, err := Normalize(domain.KeyPhone, value); err == nil {
			return domain.KeyPhone, v, true
		}
		return "", "", false
	}
	if _, err := uuid.Parse(value); err == nil {
		v, _ := Normalize(domain.KeyRandom, value)
		return domain.KeyRandom, v, true
	}

	digits := nonDigits.ReplaceAllString(value, "")
	switch {
	case len(digits) == 11 && ValidNationalID(digits):
		return domain.KeyNationalID, digits, true
	case len(digits) == 14 && ValidBusinessID(digits):
		return domain.KeyBusinessID, digits, true
	}
	if digits != "" && !strings.ContainsAny(value, "./") {
		if v, err := Normalize(domain.KeyPhone, value); err == nil {
			return domain.KeyPhone, v, true
		}
	}
	return "", "", false
}

func ValidNationalID(digits string) bool {
	if len(digits) != 11 || allSame(digits) {
		return false
	}
	d := toInts(digits)

	sum := 0
	for i := 0; i < 9; i++ {
		sum += d[i] * (10 - i)
	}
	if checkDigit(sum) != d[9] {
		return false
	}

	sum = 0
	for i := 0; i < 10; i++ {
		sum += d[i] * (11 - i)
	}
	return checkDigit(sum) == d[10]
}

func ValidBusinessID(digits string) bool {
	if len(digits) != 14 || allSame(digits) {
		return false
	}
	d := toInts(digits)

	first := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	second := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

	sum := 0
	for i, w := range first {
		sum += d[i] * w
	}
	if checkDigit(sum) != d[12] {
		return false
	}

	sum = 0
	for i, w := range second {
		sum += d[i] * w
	}
	return checkDigit(sum) == d[13]
}

func checkDigit(sum int) int {
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

func toInts(digits string) []int {
	out := make([]int, len(digits))
	for i, c := range digits {
		out[i] = int(c - '0')
	}
	return out
}

func allSame(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

func GenerateRandomKey() string {
	return uuid.NewString()
}
