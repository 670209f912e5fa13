package util

import (
	"crypto/rand"
	"encoding/hex"
)

// idBytes is the entropy per identifier; 12 bytes hex-encode to a
// 24-character string, short enough for log lines and URL paths.
const idBytes = 12

// NewID returns a random hex identifier for store rows, such as
// attachment records.
func NewID() string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
