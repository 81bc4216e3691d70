// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
)

const (
	HASH_DIGEST_SIZE = 32
	HASH_HEX_SIZE    = 64
)

const (
	ZERO_OID = "0000000000000000000000000000000000000000000000000000000000000000"
)

// Hash SHA-256 hashed content
type Hash [HASH_DIGEST_SIZE]byte

// ZeroHash is Hash with value zero
var ZeroHash Hash

// NewHash return a new Hash from a hexadecimal hash representation
func NewHash(s string) Hash {
	b, _ := hex.DecodeString(s)

	var h Hash
	copy(h[:], b)

	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	hashBytes, _ := hex.DecodeString(s)
	copy(h[:], hashBytes)
	return nil
}

// TOML
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	hashBytes, _ := hex.DecodeString(string(text))
	copy(h[:], hashBytes)
	return nil
}

// IsHash reports whether s is a well-formed 64-char lowercase hex digest.
func IsHash(s string) bool {
	if len(s) != HASH_HEX_SIZE {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashBytes returns the SHA-256 digest of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// HashFrom consumes r and returns the SHA-256 digest of its contents.
func HashFrom(r io.Reader) (Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return ZeroHash, err
	}
	var oid Hash
	copy(oid[:], h.Sum(nil))
	return oid, nil
}
