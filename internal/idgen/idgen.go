// Package idgen mints the random identifiers used across the API.
// Every entity carries a short type prefix ("auc_", "bid_", "pay_",
// "dsp_") so an ID in a log line or support ticket is self-describing.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// entropyBytes is the random payload per ID; 12 bytes encode to 24 hex
// characters, comfortably collision-free at marketplace volumes.
const entropyBytes = 12

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; an ID source
		// that silently degrades would be worse than stopping.
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
