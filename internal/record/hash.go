package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix allows the
// algorithm to change without colliding with stored digests.
const (
	DomainRecord   = "entitystore/record/v1"
	DomainSnapshot = "entitystore/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest returns the content digest of a single record.
func RecordDigest(r Record) (string, error) {
	data, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("record digest: %w", err)
	}
	return hashWithDomain(DomainRecord, data), nil
}

// Digest returns the content digest of an ordered record list.
// Two lists have equal digests exactly when they hold the same records
// in the same order.
func Digest(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := MarshalCanonical(records)
	if err != nil {
		return "", fmt.Errorf("snapshot digest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, data), nil
}

// MustDigest is like Digest but panics on error.
// Use only in tests or when records came from a decoder.
func MustDigest(records []Record) string {
	d, err := Digest(records)
	if err != nil {
		panic(err)
	}
	return d
}
