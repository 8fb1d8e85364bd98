package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDocument separates document fingerprints from any other hash use.
const DomainDocument = "duet/scenario/v1"

// Fingerprint returns a stable content hash of the document:
// SHA256(domain + 0x00 + canonical JSON).
func Fingerprint(doc *Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("fingerprint: nil document")
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainDocument))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is like Fingerprint but panics on error. Tests only.
func MustFingerprint(doc *Document) string {
	fp, err := Fingerprint(doc)
	if err != nil {
		panic(err)
	}
	return fp
}
