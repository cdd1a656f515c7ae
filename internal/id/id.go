package id

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	PrefixSession = "sess"
	PrefixLead    = "lead"
)

// New returns "<prefix>_<32 hex chars>".
func New(prefix string) string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("id: crypto/rand failed: " + err.Error())
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}

// Valid reports whether s looks like an id New would produce for prefix.
func Valid(prefix, s string) bool {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
