package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHMAC computes an HMAC-SHA256 signature over payload and returns it as a
// lowercase hex string.
func SignHMAC(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether signature is a valid hex HMAC-SHA256 of payload
// under key. The comparison is constant-time.
func VerifyHMAC(key []byte, payload, signature string) bool {
	expected := SignHMAC(key, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
