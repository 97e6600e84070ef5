package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// SignatureHeader carries the HMAC of an inbound webhook body.
const SignatureHeader = "X-Pix-Signature"

type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	signature := mac.Sum(nil)
	return hex.EncodeToString(signature)
}

func (s *Signer) Verify(data []byte, signature string) (bool, error) {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.Int("payload_bytes", len(data)))
		return false, fmt.Errorf("invalid signature")
	}

	return true, nil
}

// SignWebhook renders the header value for a webhook body.
func (s *Signer) SignWebhook(body []byte) string {
	return "sha256=" + s.Sign(body)
}

func (s *Signer) VerifyWebhook(body []byte, header string) (bool, error) {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false, fmt.Errorf("unsupported signature scheme")
	}
	return s.Verify(body, signature)
}

// Digest is the unkeyed SHA-256 of fields joined with a unit separator, so
// adjacent fields cannot be shifted into one another.
func Digest(fields ...string) string {
	h := sha256.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
