package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainBinary     = "pdfjson/binary/v1"
	DomainStructural = "pdfjson/structural/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestBinary returns the content digest of a PDF artifact.
func DigestBinary(b Binary) string {
	return hashWithDomain(DomainBinary, b.data)
}

// DigestStructural returns the content digest of structural text.
//
// The workflow uses it to bind a regenerated PDF to the exact text it was
// produced from.
func DigestStructural(s Structural) string {
	return hashWithDomain(DomainStructural, []byte(s))
}
