package prediction

import "strings"

// Classifier labels one sentence as claim-like or not.
type Classifier interface {
	Classify(text string) bool
}

// KeywordClassifier is the built-in heuristic classifier: a sentence is
// claim-like when it contains any of the configured keywords. It stands in
// for a learned model behind the same queue contract.
type KeywordClassifier struct {
	keywords []string
}

// DefaultKeywords covers common claim-bearing verb phrases.
func DefaultKeywords() []string {
	return []string{
		"is", "are", "was", "were", "has", "have", "will",
		"causes", "caused", "claims", "says", "said", "shows",
		"proves", "according to",
	}
}

// NewKeywordClassifier lowercases the keyword list once up front.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &KeywordClassifier{keywords: lowered}
}

// Classify matches keywords on word boundaries in the lowercased text.
func (k *KeywordClassifier) Classify(text string) bool {
	padded := " " + strings.Join(strings.Fields(strings.ToLower(text)), " ") + " "
	for _, kw := range k.keywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}
