package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TimestampLayout names run artifacts, e.g. 20240131_154502.
const TimestampLayout = "20060102_150405"

// Hash returns the first 8 hex digits of sha256(canonical JSON of cfg + project).
// Map keys are sorted and numbers normalized, so equivalent documents in
// different formats hash alike.
func Hash(cfg map[string]any, project string) string {
	data, err := json.Marshal(normalize(cfg))
	if err != nil {
		data = []byte{}
	}
	sum := sha256.Sum256(append(data, project...))
	return hex.EncodeToString(sum[:])[:8]
}

// Timestamp formats t with TimestampLayout.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
