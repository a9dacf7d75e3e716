package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed keys.
// The version suffix leaves room for an algorithm migration.
const (
	DomainFact  = "rulecore/fact/v1"
	DomainMatch = "rulecore/match/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactKey computes the value-equality key of a fact.
// Two facts with the same type and canonically equal fields share a key.
func FactKey(f Fact) (string, error) {
	canonical, err := MarshalCanonical(IRObject{
		"type":   IRString(f.Type),
		"fields": f.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("FactKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// MatchKey identifies a rule match by rule name and the handle IDs of its
// tuple. Snapshots use it to re-associate activations after a restore.
func MatchKey(rule string, handleIDs []int64) string {
	ids := make(IRArray, len(handleIDs))
	for i, id := range handleIDs {
		ids[i] = IRInt(id)
	}
	canonical, err := MarshalCanonical(IRObject{
		"rule":    IRString(rule),
		"handles": ids,
	})
	if err != nil {
		// Only strings and ints are encoded above.
		panic(fmt.Sprintf("MatchKey: %v", err))
	}
	return hashWithDomain(DomainMatch, canonical)
}

// MustFactKey is like FactKey but panics on error.
// Use only in tests or when the fact is known to be valid.
func MustFactKey(f Fact) string {
	key, err := FactKey(f)
	if err != nil {
		panic(err)
	}
	return key
}
