package crypto

import "testing"

func TestSigner_WebhookRoundTrip(t *testing.T) {
	signer := NewSigner("secret", nil)
	body := []byte(`{"event_type":"received"}`)

	header := signer.SignWebhook(body)

	if ok, err := signer.VerifyWebhook(body, header); !ok || err != nil {
		t.Fatalf("expected valid signature, got %v %v", ok, err)
	}
	if ok, _ := signer.VerifyWebhook([]byte(`{"event_type":"failed"}`), header); ok {
		t.Error("expected altered body to fail verification")
	}
	if ok, _ := NewSigner("other", nil).VerifyWebhook(body, header); ok {
		t.Error("expected a different secret to fail verification")
	}
	if _, err := signer.VerifyWebhook(body, "md5=abc"); err == nil {
		t.Error("expected unknown scheme to be rejected")
	}
}

func TestDigest_FieldBoundaries(t *testing.T) {
	if Digest("ab", "c") == Digest("a", "bc") {
		t.Error("expected field boundaries to change the digest")
	}
	if Digest("a", "b") != Digest("a", "b") {
		t.Error("expected digest to be deterministic")
	}
}
