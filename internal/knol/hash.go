package knol

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/conorfennell/knolmark/internal/domain"
)

// PathKey derives the storage key of a source document's highlight file.
// It is the classic 31-multiplier string hash over UTF-16 code units with
// 32-bit wraparound, printed in base 36. It is stable across restarts but not
// collision-proof: two paths with the same key share one highlight file.
func PathKey(path string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(path)) {
		h = h*31 + int32(u)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return strconv.FormatInt(n, 36)
}

// Normalize concatenates the pair's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(qa domain.QA) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	// Joined with a newline so "question" and "answer" can't run together.
	return normalizePart(qa.Question) + "\n" + normalizePart(qa.Answer)
}

// Fingerprint returns the SHA-256 of the normalized pair as a hex string.
func Fingerprint(qa domain.QA) string {
	hashBytes := sha256.Sum256([]byte(Normalize(qa)))
	return fmt.Sprintf("%x", hashBytes)
}

// CollapseSpace folds every run of whitespace into a single space and trims
// the ends.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
