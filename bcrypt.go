package onboarding

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty secret
var ErrNoEmptyString = errors.New("secret can not be empty")

// HashSecret returns the bcrypt hash of a short lived secret (OTP codes).
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(secret), secretHashCost())
	return string(h), err
}

// CompareSecretAndHash reports whether secret matches hash. A mismatch is
// not an error.
func CompareSecretAndHash(secret, hash string) (bool, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
