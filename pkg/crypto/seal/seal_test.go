package seal

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	for _, alg := range []Algorithm{AESGCM, ChaCha20} {
		t.Run(alg.String(), func(t *testing.T) {
			s, err := NewWithAlgorithm(testKey(), alg)
			if err != nil {
				t.Fatalf("NewWithAlgorithm() error = %v", err)
			}
			plaintext := []byte("profile record")
			aad := []byte("profile/u1")

			sealed, err := s.Seal(plaintext, aad)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if Algorithm(sealed[0]) != alg {
				t.Errorf("header = %d, want %d", sealed[0], alg)
			}
			if bytes.Contains(sealed, plaintext) {
				t.Error("sealed record contains plaintext")
			}

			got, err := s.Open(sealed, aad)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Open() = %q", got)
			}
		})
	}
}

func TestOpen_AcceptsEitherAlgorithm(t *testing.T) {
	chacha, _ := NewWithAlgorithm(testKey(), ChaCha20)
	gcm, _ := NewWithAlgorithm(testKey(), AESGCM)

	sealed, err := chacha.Seal([]byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gcm.Open(sealed, nil); err != nil {
		t.Errorf("Open() of ChaCha20 record with AES-GCM sealer error = %v", err)
	}
}

func TestOpen_Failures(t *testing.T) {
	s, _ := New(testKey())
	sealed, _ := s.Seal([]byte("secret"), []byte("k1"))

	if _, err := s.Open(sealed, []byte("k2")); !errors.Is(err, ErrOpen) {
		t.Errorf("Open(wrong aad) error = %v, want ErrOpen", err)
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := s.Open(tampered, []byte("k1")); !errors.Is(err, ErrOpen) {
		t.Errorf("Open(tampered) error = %v, want ErrOpen", err)
	}

	if _, err := s.Open(nil, nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open(nil) error = %v, want ErrMalformed", err)
	}
	if _, err := s.Open(sealed[:5], []byte("k1")); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open(truncated) error = %v, want ErrMalformed", err)
	}

	unknown := bytes.Clone(sealed)
	unknown[0] = 9
	if _, err := s.Open(unknown, []byte("k1")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Open(unknown alg) error = %v, want ErrUnsupported", err)
	}

	other := testKey()
	other[0] = 0xff
	s2, _ := New(other)
	if _, err := s2.Open(sealed, []byte("k1")); !errors.Is(err, ErrOpen) {
		t.Errorf("Open(wrong key) error = %v, want ErrOpen", err)
	}
}

func TestNew_KeySize(t *testing.T) {
	if _, err := New(make([]byte, 16)); !errors.Is(err, ErrKeySize) {
		t.Errorf("New(16 bytes) error = %v, want ErrKeySize", err)
	}
	if _, err := NewWithAlgorithm(testKey(), Algorithm(7)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("NewWithAlgorithm(7) error = %v, want ErrUnsupported", err)
	}
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey(testKey(), "profiles")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	b, _ := DeriveKey(testKey(), "profiles")
	c, _ := DeriveKey(testKey(), "other")

	if len(a) != KeySize {
		t.Errorf("len = %d", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey() is not deterministic")
	}
	if bytes.Equal(a, c) || bytes.Equal(a, testKey()) {
		t.Error("DeriveKey() did not separate purposes")
	}
	if _, err := DeriveKey([]byte("short"), "x"); err == nil {
		t.Error("DeriveKey(short master) error = nil")
	}
}

func TestParseKey(t *testing.T) {
	key := testKey()
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(key), false},
		{"hex with spaces", "  " + hex.EncodeToString(key) + "\n", false},
		{"base64", base64.StdEncoding.EncodeToString(key), false},
		{"short hex", hex.EncodeToString(key[:16]), true},
		{"garbage", "not a key", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("ParseKey() error = nil")
				}
				return
			}
			if err != nil || !bytes.Equal(got, key) {
				t.Errorf("ParseKey() = %x, %v", got, err)
			}
		})
	}
}
