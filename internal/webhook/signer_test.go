package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event":"order.created","data":{"id":"42"}}`)
	secret := "super-secret"

	got := Sign(secret, payload)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"event":"order.created"}`)

	sig := Sign("secret", payload)
	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("wrong", payload, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
	assert.False(t, VerifySignature("secret", payload, "not-hex"))
}
