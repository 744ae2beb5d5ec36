package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical serializes v to deterministic JSON: object keys are emitted in
// lexicographic order regardless of struct field order, so that two
// semantically equal inputs always hash identically.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	// Round-trip through interface{} so every object becomes a map, which
	// encoding/json emits with sorted keys.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// HashCanonical returns the hex SHA-256 of v's canonical serialization.
func HashCanonical(v interface{}) (string, error) {
	raw, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash advances the per-run hash chain:
// SHA-256(prevImmutableHash || canonical(content)).
func ChainHash(prevImmutableHash string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(prevImmutableHash))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
