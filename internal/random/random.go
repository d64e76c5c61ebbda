package random

import (
	"crypto/rand"
	"fmt"

	secure "github.com/soulteary/secure-kit"
)

const (
	// Alphanumeric is the charset for answers and epoch salts.
	Alphanumeric = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// Digits is the charset for numbers-only answers.
	Digits = "0123456789"
)

// String returns a random string of length n drawn from Alphanumeric,
// or from Digits when onlyNumbers is set.
func String(n int, onlyNumbers bool) (string, error) {
	chars := Alphanumeric
	if onlyNumbers {
		chars = Digits
	}
	s, err := secure.RandomString(n, chars)
	if err != nil {
		return "", fmt.Errorf("random string: %w", err)
	}
	return s, nil
}

// Bytes returns n bytes from crypto/rand.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return b, nil
}
