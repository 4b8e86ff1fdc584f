package attest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// PublicSignalsDomain separates public-signals hashes from any other SHA-256 use in the system.
const PublicSignalsDomain = "orgregistry/public-signals/v1"

// Hash is a 32-byte value: identity commitments, Merkle roots, proof hashes and public-signals hashes.
type Hash [32]byte

// ParseHash decodes 64 hex characters, with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(trimmed) != 2*len(h) {
		return h, fmt.Errorf("expected %d hex characters, got %d", 2*len(h), len(trimmed))
	}
	if _, err := hex.Decode(h[:], []byte(trimmed)); err != nil {
		return h, fmt.Errorf("invalid hex: %w", err)
	}
	return h, nil
}

// String returns the lowercase hex encoding without prefix.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// PrincipalDigest hashes a principal identifier into the value used as a public input.
func PrincipalDigest(principal string) Hash {
	return sha256.Sum256([]byte(principal))
}

// PublicSignalsHash derives the hash a proof's public signals must commit to:
// the organization's current root, the submitting principal and the organization id.
func PublicSignalsHash(root Hash, principal string, orgID uint32) Hash {
	digest := PrincipalDigest(principal)
	var org [4]byte
	binary.BigEndian.PutUint32(org[:], orgID)

	h := sha256.New()
	h.Write([]byte(PublicSignalsDomain))
	h.Write(root[:])
	h.Write(digest[:])
	h.Write(org[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
