package paymentgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// Sign returns the hex HMAC of body under secret.
func Sign(newHash func() hash.Hash, secret string, body []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares in constant time. Empty secrets and malformed hex never verify.
func VerifyHMAC(newHash func() hash.Hash, secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

func SignSHA512(secret string, body []byte) string {
	return Sign(sha512.New, secret, body)
}

func SignSHA256(secret string, body []byte) string {
	return Sign(sha256.New, secret, body)
}
