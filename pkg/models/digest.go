package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Digest is a content fingerprint: the sha256 of a byte sequence plus its
// length. It is the lookup key for the content store and the witness used to
// verify that loaded bytes are the bytes that were stored.
type Digest struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// EmptyDigest is the well-known digest of zero bytes. Executors return it for
// empty stdout/stderr and callers pass it for an empty input root.
var EmptyDigest = NewDigest(nil)

// NewDigest computes the digest of the given bytes.
func NewDigest(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{
		Hash: hex.EncodeToString(sum[:]),
		Size: int64(len(data)),
	}
}

// ParseDigest parses the "hash/size" form produced by String.
func ParseDigest(s string) (Digest, error) {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return Digest{}, fmt.Errorf("malformed digest %q: missing size separator", s)
	}
	hash := s[:idx]
	if err := validateHash(hash); err != nil {
		return Digest{}, err
	}
	size, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil || size < 0 {
		return Digest{}, fmt.Errorf("malformed digest %q: invalid size", s)
	}
	return Digest{Hash: hash, Size: size}, nil
}

func validateHash(hash string) error {
	if len(hash) != sha256.Size*2 {
		return fmt.Errorf("invalid digest hash %q: expected %d hex chars", hash, sha256.Size*2)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("invalid digest hash %q: %w", hash, err)
	}
	return nil
}

// Verify reports whether data matches this digest exactly.
func (d Digest) Verify(data []byte) bool {
	return NewDigest(data) == d
}

// IsZero reports whether the digest is the zero value (not the empty digest).
func (d Digest) IsZero() bool {
	return d.Hash == "" && d.Size == 0
}

func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.Size)
}
