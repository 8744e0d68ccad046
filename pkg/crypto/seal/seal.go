package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the required key length in bytes.
const KeySize = 32

// Algorithm identifies the AEAD used for a record.
type Algorithm byte

const (
	AESGCM   Algorithm = 1
	ChaCha20 Algorithm = 2
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-256-gcm"
	case ChaCha20:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("alg(%d)", byte(a))
	}
}

var (
	ErrKeySize     = errors.New("seal: key must be 32 bytes")
	ErrMalformed   = errors.New("seal: malformed record")
	ErrUnsupported = errors.New("seal: unsupported algorithm")
	ErrOpen        = errors.New("seal: message authentication failed")
)

// Sealer seals and opens records with one key. It is safe for concurrent use.
type Sealer struct {
	preferred Algorithm
	aeads     map[Algorithm]cipher.AEAD
}

// New creates a Sealer using the platform's preferred algorithm.
func New(key []byte) (*Sealer, error) {
	return NewWithAlgorithm(key, preferredAlgorithm())
}

// NewWithAlgorithm creates a Sealer that seals with alg.
func NewWithAlgorithm(key []byte, alg Algorithm) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm: %w", err)
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: chacha20: %w", err)
	}

	s := &Sealer{
		preferred: alg,
		aeads:     map[Algorithm]cipher.AEAD{AESGCM: gcm, ChaCha20: chacha},
	}
	if _, ok := s.aeads[alg]; !ok {
		return nil, ErrUnsupported
	}
	return s, nil
}

// Algorithm returns the algorithm used by Seal.
func (s *Sealer) Algorithm() Algorithm {
	return s.preferred
}

// Seal encrypts plaintext. aad is authenticated but not stored; the same
// value must be given to Open.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	aead := s.aeads[s.preferred]
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = byte(s.preferred)
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return aead.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts a record produced by Seal with the same key and aad.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < 1 {
		return nil, ErrMalformed
	}
	aead, ok := s.aeads[Algorithm(sealed[0])]
	if !ok {
		return nil, ErrUnsupported
	}
	body := sealed[1:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	plaintext, err := aead.Open(nil, body[:aead.NonceSize()], body[aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// DeriveKey expands master into a KeySize subkey bound to info.
func DeriveKey(master []byte, info string) ([]byte, error) {
	if len(master) < 16 {
		return nil, errors.New("seal: master key too short")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("seal: derive key: %w", err)
	}
	return key, nil
}

// ParseKey decodes a 32-byte key given as hex or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, ErrKeySize
}

// preferredAlgorithm picks AES-GCM where Go uses hardware AES.
func preferredAlgorithm() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x":
		return AESGCM
	default:
		return ChaCha20
	}
}
