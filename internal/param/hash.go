package param

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainParams separates parameter-set digests from any other hash use.
const DomainParams = "trigdb/params/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns a stable content digest of s. Two sets with equal contents
// hash identically regardless of insertion order.
func Hash(s Set) (string, error) {
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("hash params: %w", err)
	}
	return hashWithDomain(DomainParams, canonical), nil
}
