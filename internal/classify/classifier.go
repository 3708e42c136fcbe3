// Package classify buckets incoming requests by expected complexity.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Tier buckets a request by expected response latency and complexity.
type Tier string

const (
	TierSimpleConversation Tier = "simple_conversation"
	TierSimpleTool         Tier = "simple_tool"
	TierComplexWork        Tier = "complex_work"
	TierDeepWork           Tier = "deep_work"
)

// Result is the classifier's verdict for one request.
type Result struct {
	Tier              Tier
	Confidence        float64
	Reasoning         string
	EstimatedDuration time.Duration
}

// IsAsyncCandidate reports whether a tier is eligible for background
// execution.
func IsAsyncCandidate(tier Tier) bool {
	return tier == TierComplexWork || tier == TierDeepWork
}

var deepWorkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bresearch\b`),
	regexp.MustCompile(`(?i)\b(in-?depth|comprehensive|thorough)\b.*\b(analysis|review|report|study)\b`),
	regexp.MustCompile(`(?i)\bcompare\b.*\b(vs\.?|versus|against|alternatives?|options?)\b`),
	regexp.MustCompile(`(?i)\b(architecture|architectural)\b.*\b(design|review|decision|trade-?offs?)\b`),
	regexp.MustCompile(`(?i)\b(investigate|deep dive|survey)\b`),
	regexp.MustCompile(`(?i)\b(state of the art|latest trends|landscape)\b`),
}

var complexWorkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(build|create|implement|develop|design|generate)\b.*\b(app|application|tool|dashboard|script|service|pipeline|report|website|api)\b`),
	regexp.MustCompile(`(?i)\b(refactor|migrate|integrate|automate|optimi[sz]e)\b`),
	regexp.MustCompile(`(?i)\bwrite\b.*\b(program|module|parser|crawler|scraper|test suite)\b`),
	regexp.MustCompile(`(?i)\bset up\b.*\b(project|environment|deployment|ci)\b`),
}

var simpleToolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(calculate|convert|translate|look ?up|define)\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is) the (time|date|weather)\b`),
	regexp.MustCompile(`(?i)\b(search for|find me)\b`),
	regexp.MustCompile(`(?i)\bcheck (the|my)\b`),
}

var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|yo|howdy)\b`),
	regexp.MustCompile(`(?i)^(thanks|thank you|thx|ty)\b`),
	regexp.MustCompile(`(?i)^(ok|okay|cool|great|nice|got it|sounds good)\b`),
	regexp.MustCompile(`(?i)\bhow are you\b`),
	regexp.MustCompile(`(?i)^good (morning|afternoon|evening|night)\b`),
	regexp.MustCompile(`(?i)^(bye|goodbye|see you|later)\b`),
}

var highComplexityKeywords = []string{
	"multiple", "several", "complex", "detailed", "comprehensive",
	"integrate", "optimize", "analyze", "compare", "architecture",
	"system", "pipeline", "database", "distributed", "end-to-end",
}

var lowComplexityKeywords = []string{
	"quick", "simple", "just", "small", "single", "basic", "only",
}

// Classifier assigns a request tier from text alone. It is deterministic
// and has no state beyond its compiled patterns; construct one per process
// and share it.
type Classifier struct{}

// NewClassifier returns a request classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify evaluates text against the tier rules, first match wins:
// deep work patterns, then complex work patterns or a complexity score
// above 0.6, then simple tool patterns, then conversational patterns or
// very short text. Anything unmatched falls back to complex work so the
// system fails toward offering async execution rather than blocking.
func (c *Classifier) Classify(text string) Result {
	for _, p := range deepWorkPatterns {
		if p.MatchString(text) {
			return Result{
				Tier:              TierDeepWork,
				Confidence:        0.85,
				Reasoning:         "matches deep work phrasing",
				EstimatedDuration: 180 * time.Second,
			}
		}
	}

	score := ComplexityScore(text)
	for _, p := range complexWorkPatterns {
		if p.MatchString(text) {
			return Result{
				Tier:              TierComplexWork,
				Confidence:        0.8,
				Reasoning:         "matches complex work phrasing",
				EstimatedDuration: 60 * time.Second,
			}
		}
	}
	if score > 0.6 {
		return Result{
			Tier:              TierComplexWork,
			Confidence:        0.8,
			Reasoning:         fmt.Sprintf("complexity score %.2f above threshold", score),
			EstimatedDuration: 60 * time.Second,
		}
	}

	for _, p := range simpleToolPatterns {
		if p.MatchString(text) {
			return Result{
				Tier:              TierSimpleTool,
				Confidence:        0.9,
				Reasoning:         "matches simple tool phrasing",
				EstimatedDuration: 10 * time.Second,
			}
		}
	}

	for _, p := range conversationalPatterns {
		if p.MatchString(text) {
			return Result{
				Tier:              TierSimpleConversation,
				Confidence:        0.95,
				Reasoning:         "matches conversational phrasing",
				EstimatedDuration: time.Second,
			}
		}
	}
	if len(text) < 50 {
		return Result{
			Tier:              TierSimpleConversation,
			Confidence:        0.95,
			Reasoning:         "short message, likely conversational",
			EstimatedDuration: time.Second,
		}
	}

	return Result{
		Tier:              TierComplexWork,
		Confidence:        0.5,
		Reasoning:         "no pattern matched, defaulting to complex work",
		EstimatedDuration: 60 * time.Second,
	}
}

// ComplexityScore is a keyword/length heuristic in [0,1]. It starts at
// 0.5, adds 0.1 per high-complexity keyword, subtracts 0.15 per
// low-complexity keyword, adds 0.2 for long text and subtracts 0.2 for
// short text.
func ComplexityScore(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.5

	for _, kw := range highComplexityKeywords {
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}
	for _, kw := range lowComplexityKeywords {
		if strings.Contains(lower, kw) {
			score -= 0.15
		}
	}

	if len(text) > 200 {
		score += 0.2
	}
	if len(text) < 50 {
		score -= 0.2
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
