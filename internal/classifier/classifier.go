// Package classifier provides a lightweight keyword-based intent
// classifier used to pick a routing hint (code / reasoning / general)
// for an incoming chat request.
package classifier

import (
	"regexp"
	"strings"
)

// Intent is the coarse routing label produced by Classify.
type Intent string

const (
	Code      Intent = "code"
	Reasoning Intent = "reasoning"
	General   Intent = "general"
)

// reasoningMarkers are lightweight structural phrases that bump the
// reasoning score regardless of the configured keyword set.
var reasoningMarkers = []string{"step by step", "first,", "therefore", "hypothesis"}

// Thresholds gates the score at which a classification is reported
// with confidence rather than falling back to General.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// Config is the classifier's static configuration, loaded once from
// the routing config and never mutated afterward.
type Config struct {
	CodeKeywords      []string
	ReasoningKeywords []string
	Thresholds        Thresholds
}

// Classifier matches pre-compiled, case-insensitive, word-boundary
// patterns against incoming text.
type Classifier struct {
	codePattern      *regexp.Regexp
	reasoningPattern *regexp.Regexp
	thresholds       Thresholds
}

// New compiles the keyword sets in cfg into a ready-to-use Classifier.
// It panics if either keyword set is empty, since an empty alternation
// produces a regexp that matches everything — a configuration error
// that should fail fast at load time, not silently misclassify traffic.
func New(cfg Config) *Classifier {
	if len(cfg.CodeKeywords) == 0 {
		panic("classifier: code_keywords must not be empty")
	}
	if len(cfg.ReasoningKeywords) == 0 {
		panic("classifier: reasoning_keywords must not be empty")
	}
	return &Classifier{
		codePattern:      compileKeywords(cfg.CodeKeywords),
		reasoningPattern: compileKeywords(cfg.ReasoningKeywords),
		thresholds:       cfg.Thresholds,
	}
}

func compileKeywords(keywords []string) *regexp.Regexp {
	escaped := make([]string, len(keywords))
	for i, k := range keywords {
		escaped[i] = regexp.QuoteMeta(k)
	}
	pattern := `\b(` + strings.Join(escaped, "|") + `)\b`
	return regexp.MustCompile(`(?i)` + pattern)
}

// Classify returns the coarse intent for text along with a confidence
// score in [0, 1]. It is pure: identical input always yields identical
// output.
func (c *Classifier) Classify(text string) (Intent, float64) {
	lower := strings.ToLower(text)

	codeMatches := len(c.codePattern.FindAllString(text, -1))
	reasoningMatches := len(c.reasoningPattern.FindAllString(text, -1))

	if strings.Contains(text, "```") {
		codeMatches += 2
	}
	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			reasoningMatches++
			break
		}
	}

	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return General, 1.0
	}

	normalizer := float64(len(tokens)) * 0.1
	if normalizer < 1 {
		normalizer = 1
	}

	codeScore := minFloat(float64(codeMatches)/normalizer, 1.0)
	reasoningScore := minFloat(float64(reasoningMatches)/normalizer, 1.0)

	switch {
	case codeScore >= c.thresholds.Medium && codeScore >= reasoningScore:
		return Code, codeScore
	case reasoningScore >= c.thresholds.Medium:
		return Reasoning, reasoningScore
	default:
		return General, 1.0 - maxFloat(codeScore, reasoningScore)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ConfidenceBucket maps a raw confidence score to the low/medium/high
// label used by the intent_classification_total metric.
func ConfidenceBucket(confidence float64) string {
	switch {
	case confidence >= 0.7:
		return "high"
	case confidence >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
