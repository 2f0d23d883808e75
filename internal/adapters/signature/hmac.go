// Package signature computes and checks the gateway's HMAC-SHA256 signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
func Sign(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is exactly the lowercase hex HMAC-SHA256 of message
// under secret. Any other spelling, uppercase included, is unequal.
func Verify(message []byte, signature string, secret []byte) bool {
	if len(signature) != hex.EncodedLen(sha256.Size) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(message, secret)))
}

// CheckoutMessage builds the message the gateway signs for a completed checkout.
func CheckoutMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
