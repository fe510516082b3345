package onboarding

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenBytes = 32
	otpDigits  = 6
)

var otpSpace = big.NewInt(1_000_000)

// NewRandomToken returns 32 random bytes encoded as unpadded base64url.
func NewRandomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewOtpCode returns a uniformly distributed, zero padded six digit code.
func NewOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// PasswordSealer protects staged passwords that have to be replayed into the
// identity directory later, so they can not be one way hashed.
type PasswordSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// ErrSealedValueMalformed is returned when a sealed value can not be opened.
var ErrSealedValueMalformed = errors.New("sealed value malformed")

var sealerInfo = []byte("go-onboarding pending password v1")

type xchachaSealer struct {
	key []byte
}

// NewPasswordSealer derives an XChaCha20-Poly1305 key from secret.
func NewPasswordSealer(secret string) (PasswordSealer, error) {
	if secret == "" {
		return nil, ErrNoEmptyString
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, sealerInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	return &xchachaSealer{key: key}, nil
}

func (s *xchachaSealer) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *xchachaSealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedValueMalformed
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrSealedValueMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValueMalformed
	}
	return string(plain), nil
}
