// Package transcript post-processes recognized text before it enters a
// session. Its single concern today is removing the duplicated words that
// overlapping audio windows produce at segment boundaries.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultSimilarityThreshold = 0.88
	defaultMaxWords            = 8
)

// TrimmerOption is a functional option for configuring an [OverlapTrimmer].
type TrimmerOption func(*OverlapTrimmer)

// WithSimilarityThreshold sets the Jaro-Winkler score at or above which two
// words are treated as the same word when matching the overlap region.
// Recognizers rarely transcribe the shared audio identically twice, so exact
// string equality misses most real overlaps. Default: 0.88.
func WithSimilarityThreshold(threshold float64) TrimmerOption {
	return func(t *OverlapTrimmer) {
		t.threshold = threshold
	}
}

// WithMaxWords bounds how many trailing words of the previous segment are
// considered when looking for a duplicated prefix. Overlap windows are short
// (around a second of speech), so a small bound keeps matching cheap and
// avoids trimming genuine repetition further back in the utterance.
// Default: 8.
func WithMaxWords(n int) TrimmerOption {
	return func(t *OverlapTrimmer) {
		t.maxWords = n
	}
}

// OverlapTrimmer removes from a new segment the words already spoken at the
// end of the previous one. Consecutive windows share their overlap region, so
// the recognizer hears the boundary twice; the trimmer finds the longest
// suffix of the previous segment that fuzzily matches a prefix of the new
// text and drops that prefix.
//
// Word comparison is case-insensitive, ignores surrounding punctuation, and
// uses Jaro-Winkler similarity rather than equality so that near-identical
// transcriptions of the same audio still match.
//
// OverlapTrimmer is safe for concurrent use.
type OverlapTrimmer struct {
	threshold float64
	maxWords  int
}

// NewOverlapTrimmer returns a trimmer with the given options applied over the
// defaults.
func NewOverlapTrimmer(opts ...TrimmerOption) *OverlapTrimmer {
	t := &OverlapTrimmer{
		threshold: defaultSimilarityThreshold,
		maxWords:  defaultMaxWords,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Trim returns next with any prefix that duplicates the tail of previous
// removed. When previous is empty, or no suffix/prefix match is found, next
// is returned unchanged. Trim never removes all of next: if the entire new
// segment matches the previous tail it is treated as a pure echo and the
// empty string is returned so the caller can discard it.
func (t *OverlapTrimmer) Trim(previous, next string) string {
	prevWords := strings.Fields(previous)
	nextWords := strings.Fields(next)
	if len(prevWords) == 0 || len(nextWords) == 0 {
		return next
	}

	// Only the tail of the previous segment can overlap the new window.
	if len(prevWords) > t.maxWords {
		prevWords = prevWords[len(prevWords)-t.maxWords:]
	}

	// Longest suffix of prevWords matching a prefix of nextWords wins.
	longest := min(len(prevWords), len(nextWords))
	for n := longest; n > 0; n-- {
		if t.matchRun(prevWords[len(prevWords)-n:], nextWords[:n]) {
			rest := nextWords[n:]
			if len(rest) == 0 {
				return ""
			}
			return strings.Join(rest, " ")
		}
	}
	return next
}

// matchRun reports whether every word pair in the two equal-length runs is
// the same word under the fuzzy comparison.
func (t *OverlapTrimmer) matchRun(a, b []string) bool {
	for i := range a {
		if !t.sameWord(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (t *OverlapTrimmer) sameWord(a, b string) bool {
	a = normalizeWord(a)
	b = normalizeWord(b)
	if a == "" || b == "" {
		return a == b
	}
	if a == b {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= t.threshold
}

// normalizeWord lowercases and strips leading/trailing punctuation so that
// "Patient," and "patient" compare equal.
func normalizeWord(w string) string {
	w = strings.ToLower(w)
	return strings.Trim(w, ".,;:!?\"'()[]{}")
}
