package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	// Prefix starts every session token.
	Prefix = "fss_"
	// DigestPrefix starts every stored token digest.
	DigestPrefix = "fsd_"

	entropyBytes = 32
)

// Length is the length of a token in characters.
var Length = len(Prefix) + base64.RawURLEncoding.EncodedLen(entropyBytes)

// New returns a fresh random token.
func New() (string, error) {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Valid reports whether tok has the token shape. It does not check that
// the token was ever issued.
func Valid(tok string) bool {
	if len(tok) != Length || !strings.HasPrefix(tok, Prefix) {
		return false
	}
	body, err := base64.RawURLEncoding.DecodeString(tok[len(Prefix):])
	return err == nil && len(body) == entropyBytes
}

// Digest returns the storable digest of tok.
func Digest(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// Verify reports whether tok matches digest. Malformed tokens never match.
func Verify(tok, digest string) bool {
	if !Valid(tok) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(tok)), []byte(digest)) == 1
}
