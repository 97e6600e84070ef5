package keys

import (
	"strings"

	"pix_processor/internal/domain"
)

// Mask renders a key for display to someone other than its owner.
func Mask(keyType domain.KeyType, value string) string {
	switch keyType {
	case domain.KeyNationalID:
		if len(value) != 11 {
			return stars(len(value))
		}
		return "***." + value[3:6] + "." + value[6:9] + "-**"
	case domain.KeyBusinessID:
		if len(value) != 14 {
			return stars(len(value))
		}
		return value[:2] + "." + value[2:5] + ".***/****-" + value[12:]
	case domain.KeyEmail:
		at := strings.LastIndex(value, "@")
		if at <= 0 {
			return stars(len(value))
		}
		local := value[:at]
		visible := 2
		if len(local) <= visible {
			visible = 1
		}
		return local[:visible] + stars(len(local)-visible) + value[at:]
	case domain.KeyPhone:
		if len(value) < 8 {
			return stars(len(value))
		}
		return value[:5] + stars(len(value)-9) + value[len(value)-4:]
	case domain.KeyRandom:
		if len(value) < 12 {
			return stars(len(value))
		}
		return value[:8] + "-****-****-****-" + value[len(value)-4:]
	default:
		return stars(len(value))
	}
}

func stars(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("*", n)
}
