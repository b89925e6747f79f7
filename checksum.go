package flow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"
)

// Checksum returns the BLAKE3 hash of the graph's JSON encoding. Graph
// encoding is stable (no maps), so equal graphs hash equally.
func Checksum(g Graph) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("flow: encode graph: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
