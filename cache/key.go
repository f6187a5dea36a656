package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keySeparator keeps field boundaries unambiguous so that, for example,
// ("ab", "c") and ("a", "bc") never hash to the same key.
const keySeparator = "\x1f"

// DeriveKey turns a synthesis request into a stable content-addressed
// cache key. Text is trimmed and lowercased before hashing; empty text is
// accepted and hashes to its own valid key. The result is deterministic
// across process restarts.
func DeriveKey(text, voiceID, format, engine string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte(keySeparator))
	h.Write([]byte(voiceID))
	h.Write([]byte(keySeparator))
	h.Write([]byte(format))
	h.Write([]byte(keySeparator))
	h.Write([]byte(engine))

	return hex.EncodeToString(h.Sum(nil))
}
