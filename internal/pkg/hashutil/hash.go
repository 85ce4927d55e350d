// Package hashutil produces the deterministic data IDs used to key cached
// computations. Equal semantic inputs must hash equal regardless of the
// submitter, so object hashing goes through a canonical JSON encoding
// (map keys sorted) before digesting.
package hashutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultLength is the number of hex characters kept from the digest.
const DefaultLength = 32

// Object hashes the canonical JSON encoding of v, truncated to length hex
// characters.
func Object(v any, length int) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash object: %w", err)
	}
	sum := sha1.Sum(b)
	return truncate(hex.EncodeToString(sum[:]), length), nil
}

// Bytes hashes raw content, truncated to length hex characters.
func Bytes(data []byte, length int) string {
	sum := sha1.Sum(data)
	return truncate(hex.EncodeToString(sum[:]), length)
}

// Stream hashes everything readable from r.
func Stream(r io.Reader, length int) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return truncate(hex.EncodeToString(h.Sum(nil)), length), nil
}

func truncate(s string, length int) string {
	if length <= 0 || length > len(s) {
		return s
	}
	return s[:length]
}
