package api_v1

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenMAC generates the HMAC signature for a message provided the secret key using SHA256
func GenMAC(message, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// ZipHash returns the hex encoded SHA-256 digest of the raw request body.
func ZipHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalRequest reduces a request URL to its signed form: the request path
// and the URL-encoded query string with keys in sorted order, joined by a
// newline. Clients and server must derive the identical string regardless of
// the order query parameters were sent in.
func CanonicalRequest(u *url.URL) string {
	return u.Path + "\n" + u.Query().Encode()
}

// StringToSign assembles the newline-delimited signing payload:
//
//	Deploy-HMAC-SHA256
//	<timestamp>
//	<repository>
//	<run id>
//	hex(SHA256(canonical request))
//	hex(SHA256(body))
//
// The timestamp is signed verbatim; it is validated separately.
func StringToSign(timestamp, repository, runID, canonicalRequest, zipHash string) []byte {
	hashedRequest := sha256.Sum256([]byte(canonicalRequest))
	return []byte(strings.Join([]string{
		SignatureScheme,
		timestamp,
		repository,
		runID,
		hex.EncodeToString(hashedRequest[:]),
		zipHash,
	}, "\n"))
}

// Sign computes the hex encoded request signature.
func Sign(key Key, timestamp, repository, runID, canonicalRequest string, body []byte) string {
	message := StringToSign(timestamp, repository, runID, canonicalRequest, ZipHash(body))
	return hex.EncodeToString(GenMAC(message, key))
}

// ValidateSignature recomputes the signature for the given request parameters
// and compares it against the provided value in constant time.
func ValidateSignature(key Key, provided, timestamp, repository, runID, canonicalRequest string, body []byte) error {
	expected := Sign(key, timestamp, repository, runID, canonicalRequest, body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return fmt.Errorf("%s: HMAC signature error", FailedAuthenticationMsg)
	}
	return nil
}
