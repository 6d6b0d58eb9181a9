package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the key length both algorithms require.
const KeySize = 32

// CipherType names an algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	ErrKeySize      = errors.New("adaptive: key must be 32 bytes")
	ErrUnknownType  = errors.New("adaptive: unknown cipher type")
	ErrMalformed    = errors.New("adaptive: sealed value is malformed")
	ErrTypeMismatch = errors.New("adaptive: value was sealed with another cipher")
	ErrOpen         = errors.New("adaptive: message authentication failed")
)

// algorithm tags written as the first byte of a sealed value.
const (
	tagAESGCM   byte = 1
	tagChaCha20 byte = 2
)

// Cipher seals and opens values.
type Cipher interface {
	Type() CipherType
	// Seal encrypts plaintext bound to ad.
	Seal(plaintext, ad []byte) ([]byte, error)
	// Open reverses Seal for the same ad.
	Open(sealed, ad []byte) ([]byte, error)
	// Overhead is the number of bytes Seal adds.
	Overhead() int
}

// New returns the preferred cipher for this host.
func New(key []byte) (Cipher, error) {
	return NewWithType(key, Preferred())
}

// NewWithType returns the named cipher.
func NewWithType(key []byte, t CipherType) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	switch t {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &sealer{typ: t, tag: tagAESGCM, aead: aead}, nil
	case CipherChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		return &sealer{typ: t, tag: tagChaCha20, aead: aead}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// Preferred returns the algorithm New picks. Go uses hardware AES on amd64
// and arm64.
func Preferred() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// SealedType reports which algorithm sealed a value.
func SealedType(sealed []byte) (CipherType, error) {
	if len(sealed) == 0 {
		return "", ErrMalformed
	}
	switch sealed[0] {
	case tagAESGCM:
		return CipherAESGCM, nil
	case tagChaCha20:
		return CipherChaCha20, nil
	default:
		return "", ErrMalformed
	}
}

type sealer struct {
	typ  CipherType
	tag  byte
	aead cipher.AEAD
}

func (s *sealer) Type() CipherType { return s.typ }

func (s *sealer) Overhead() int { return 1 + s.aead.NonceSize() + s.aead.Overhead() }

func (s *sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	out := make([]byte, 1+ns, s.Overhead()+len(plaintext))
	out[0] = s.tag
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, err
	}
	return s.aead.Seal(out, out[1:], plaintext, ad), nil
}

func (s *sealer) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < s.Overhead() {
		return nil, ErrMalformed
	}
	if sealed[0] != s.tag {
		if _, err := SealedType(sealed); err != nil {
			return nil, err
		}
		return nil, ErrTypeMismatch
	}
	ns := s.aead.NonceSize()
	plain, err := s.aead.Open(nil, sealed[1:1+ns], sealed[1+ns:], ad)
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}
