package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Short returns the first 12 hex characters.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// HashOf hashes the JSON encoding of v. Map keys are sorted by encoding/json,
// so equal maps hash equally.
func HashOf(v interface{}) Hash {
	data, err := json.Marshal(v)
	if err != nil {
		return NewHash([]byte(fmt.Sprintf("%#v", v)))
	}
	return NewHash(data)
}

// HashStrings hashes an ordered list of strings.
func HashStrings(values []string) Hash {
	return NewHash([]byte(strings.Join(values, "\x1f")))
}
