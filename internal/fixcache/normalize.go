// Package fixcache remembers which shell commands fixed which errors, so a
// recurring error skips the LLM round-trip. SQLite is the source of truth
// with a small LRU layer in front; matching is exact by normalised hash,
// then fuzzy by edit-distance similarity.
package fixcache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Volatile fragments are masked before hashing so that the same underlying
// error matches across runs: paths, addresses, quoted values, and every
// number (line/col, PIDs, timestamps, durations) vary without changing what
// is actually wrong.
var (
	rePath   = regexp.MustCompile(`/[\w.\-/]+`)
	reHex    = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
	reQuoted = regexp.MustCompile("'[^']*'|\"[^\"]*\"|`[^`]*`")
	reDigits = regexp.MustCompile(`\d+`)
	reSpace  = regexp.MustCompile(`\s+`)
)

// Normalize reduces an error message to its stable shape.
func Normalize(errText string) string {
	s := strings.ToLower(errText)
	s = rePath.ReplaceAllString(s, "<PATH>")
	s = reHex.ReplaceAllString(s, "<ADDR>")
	s = reQuoted.ReplaceAllString(s, "<VAR>")
	s = reDigits.ReplaceAllString(s, "N")
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

// Key returns the cache key for an error message: sha256 of its normalised
// form, hex encoded.
func Key(errText string) string {
	sum := sha256.Sum256([]byte(Normalize(errText)))
	return hex.EncodeToString(sum[:])
}

// Similarity scores two normalised error texts in [0, 1] as
// 1 - levenshtein/maxlen, runewise.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)

	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	return 1 - float64(dist)/float64(maxLen)
}
