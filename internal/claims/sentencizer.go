// Package claims implements the claim pipeline orchestrator: it sequences
// persistence, remote model inference and monitoring-event emission into one
// logical unit of work per request.
package claims

import (
	"strings"
	"unicode"
)

// DefaultMinSentenceLength is the minimum number of significant characters
// a sentence needs to become a claim candidate.
const DefaultMinSentenceLength = 6

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Sentencize splits text into sentences on terminating punctuation, keeping
// consecutive terminators attached to the sentence they close. Surrounding
// whitespace and the trailing terminators themselves are stripped from each
// sentence; the interior surface text is preserved as written.
func Sentencize(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		s = strings.TrimRightFunc(s, isTerminator)
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		// Swallow runs like "?!" or "..." into the current sentence.
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		flush()
	}
	flush()

	return sentences
}

// Normalize produces the de-duplication form of a sentence: lowercased with
// all whitespace runs collapsed to single spaces. The surface text stored on
// the claim row is left untouched by this.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// significantLength counts the non-whitespace characters of a sentence.
func significantLength(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// CandidateClaims sentencizes text and returns the surviving unique claim
// candidates in first-seen order. Sentences shorter than minLength
// significant characters are dropped; duplicates are detected on the
// normalized form while the first surface form is kept for storage.
func CandidateClaims(text string, minLength int) []string {
	if minLength <= 0 {
		minLength = DefaultMinSentenceLength
	}

	seen := make(map[string]struct{})
	var out []string
	for _, sentence := range Sentencize(text) {
		if significantLength(sentence) < minLength {
			continue
		}
		norm := Normalize(sentence)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, sentence)
	}
	return out
}
