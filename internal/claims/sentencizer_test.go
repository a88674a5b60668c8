package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentencize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single sentence",
			text: "Water boils at 100 degrees.",
			want: []string{"Water boils at 100 degrees"},
		},
		{
			name: "multiple terminators attach to their sentence",
			text: "Is that true?! It is... Really.",
			want: []string{"Is that true", "It is", "Really"},
		},
		{
			name: "trailing text without terminator",
			text: "First sentence. second without a period",
			want: []string{"First sentence", "second without a period"},
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "only punctuation",
			text: "...!?",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sentencize(tt.text))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "claim a is true", Normalize("Claim   A\tis \n TRUE"))
	assert.Equal(t, "", Normalize("   "))
}

func TestCandidateClaimsDedupesAndFilters(t *testing.T) {
	got := CandidateClaims("Claim A is true. Claim A is true. Short.", 6)
	assert.Equal(t, []string{"Claim A is true"}, got)
}

func TestCandidateClaimsDedupeIsCaseAndWhitespaceInsensitive(t *testing.T) {
	got := CandidateClaims("Claim A is true. CLAIM  a IS true! A different claim here.", 6)
	assert.Equal(t, []string{"Claim A is true", "A different claim here"}, got)
}

func TestCandidateClaimsKeepsSurfaceText(t *testing.T) {
	got := CandidateClaims("The Earth ORBITS the Sun.", 6)
	assert.Equal(t, []string{"The Earth ORBITS the Sun"}, got)
}

func TestCandidateClaimsLengthThreshold(t *testing.T) {
	// "Short" has five significant characters, one below the threshold.
	assert.Empty(t, CandidateClaims("Short.", 6))
	assert.Equal(t, []string{"Longer"}, CandidateClaims("Longer.", 6))
}
