package manifest

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// ErrDigestMismatch is returned when a source does not match its pinned digest
var ErrDigestMismatch = errors.New("digest mismatch")

// ValidateDigest checks data against an expected "sha256:<hex>" digest
func ValidateDigest(data []byte, expectedDigest string) error {
	if expectedDigest == "" {
		return fmt.Errorf("digest validation: expected digest cannot be empty")
	}

	_, expectedHex, err := ParseDigest(expectedDigest)
	if err != nil {
		return fmt.Errorf("digest validation: %w", err)
	}

	actual := ComputeSHA256(data)
	if actual != expectedHex {
		return fmt.Errorf("%w: expected sha256:%s, got sha256:%s", ErrDigestMismatch, expectedHex, actual)
	}

	return nil
}

// ParseDigest splits "algorithm:hexvalue". Only sha256 is supported.
func ParseDigest(digest string) (algorithm, hex string, err error) {
	if digest == "" {
		return "", "", fmt.Errorf("digest cannot be empty")
	}

	algorithm, hex, ok := strings.Cut(digest, ":")
	if !ok || strings.Contains(hex, ":") {
		return "", "", fmt.Errorf("invalid digest format, expected 'algorithm:hexvalue', got %q", digest)
	}
	if algorithm == "" || hex == "" {
		return "", "", fmt.Errorf("invalid digest format, algorithm and hex cannot be empty")
	}
	if algorithm != "sha256" {
		return "", "", fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}

	for _, char := range hex {
		if !((char >= '0' && char <= '9') || (char >= 'a' && char <= 'f')) {
			return "", "", fmt.Errorf("invalid digest format, hex contains non-hexadecimal character %q", char)
		}
	}
	if len(hex) != sha256.Size*2 {
		return "", "", fmt.Errorf("invalid sha256 digest length: expected 64 hex chars, got %d", len(hex))
	}

	return algorithm, hex, nil
}

// ComputeSHA256 returns the hex sha256 of data
func ComputeSHA256(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// Digest returns the "sha256:<hex>" digest of data
func Digest(data []byte) string {
	return "sha256:" + ComputeSHA256(data)
}
