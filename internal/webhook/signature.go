package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks the delivery signature header against
// HMAC-SHA256(secret, payload) over the exact raw request bytes. Missing
// header, wrong prefix, undecodable hex, or any mismatch yields false. The
// digest comparison is length-checked and constant-time; secret-derived
// material never goes through ordinary equality.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if len(provided) != len(expected) {
		return false
	}
	return hmac.Equal(provided, expected)
}

// VerifyChallenge handles the subscription handshake, independent of
// signature verification. Returns the challenge to echo back and whether
// the handshake is accepted.
func VerifyChallenge(mode, verifyToken, challenge, expectedToken string) (string, bool) {
	if mode != "subscribe" {
		return "", false
	}

	provided := strings.TrimSpace(verifyToken)
	expected := strings.TrimSpace(expectedToken)
	if expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}
