package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// hash derives the fixed-size keys and file names of the stores.
func hash(b []byte) []byte {
	sum := sha256.Sum256(b)

	return sum[:]
}

func hashString(s string) string {
	return hex.EncodeToString(hash([]byte(s)))
}
