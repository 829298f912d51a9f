package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Checksum returns a stable content hash of a JSON value: sha256 over
// its canonical encoding. encoding/json writes map keys in sorted
// order, so equal values hash equally regardless of construction
// order; the value is normalized first so Go ints and decoded float64s
// canonicalize the same way.
func Checksum(v any) (string, error) {
	norm, err := Normalize(v)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
