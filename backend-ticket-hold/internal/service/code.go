package service

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet is URL-safe and leaves out 0, 1, l and o. Its length of 32
// divides 256, so masking a random byte keeps every symbol equally likely.
const codeAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// DefaultCodeLength gives 60 bits of entropy
const DefaultCodeLength = 12

// CodeGenerator produces a candidate purchase link code
type CodeGenerator func(length int) (string, error)

// GenerateCode draws a code from crypto/rand
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[b&31]
	}
	return string(buf), nil
}
