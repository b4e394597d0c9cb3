package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHMAC returns the hex-encoded HMAC-SHA256 of message under secret.
func ComputeHMAC(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC compares a hex signature against the expected digest in
// constant time.
func VerifyHMAC(secret string, message []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := ComputeHMAC(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
