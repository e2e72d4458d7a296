package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DomainDerivation prefixes derivation record IDs.
// Bump the version suffix when the record encoding changes.
const DomainDerivation = "battery/derivation/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the content ID of v under domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// Score formats an entropy score for canonical JSON, which forbids floats.
func Score(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

// Time formats a timestamp for canonical JSON.
func Time(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
