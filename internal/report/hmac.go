package report

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the request body signature when signing is enabled.
const SignatureHeader = "X-Probe-Signature"

const signaturePrefix = "sha256="

// ComputeHMAC returns the HMAC-SHA256 signature for the given data using the token.
func ComputeHMAC(data []byte, token string) []byte {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(data)
	return mac.Sum(nil)
}

// Sign returns the SignatureHeader value for body.
func Sign(body []byte, token string) string {
	return signaturePrefix + hex.EncodeToString(ComputeHMAC(body, token))
}

// Verify performs a constant-time check of a SignatureHeader value against body.
func Verify(header string, body []byte, token string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	return hmac.Equal(sig, ComputeHMAC(body, token))
}
