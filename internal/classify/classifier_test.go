package classify

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTiers(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		text string
		tier Tier
	}{
		{"research request", "Can you research the best approach to database sharding?", TierDeepWork},
		{"research and build", "Research the latest trends in AI agent architectures and build a dashboard", TierDeepWork},
		{"comparison", "Compare PostgreSQL vs MySQL for our workload and list the alternatives", TierDeepWork},
		{"investigation", "Please investigate why our deployments keep flaking", TierDeepWork},
		{"build request", "Build a small dashboard for tracking our deployment metrics over time", TierComplexWork},
		{"refactor", "We should refactor the payment module before the next release goes out", TierComplexWork},
		{"calculation", "Calculate the compound interest on 5000 at 3% for ten years please", TierSimpleTool},
		{"greeting", "hey there!", TierSimpleConversation},
		{"thanks", "thanks, that helped a lot", TierSimpleConversation},
		{"short misc", "what about lunch?", TierSimpleConversation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(tt.text)
			assert.Equal(t, tt.tier, res.Tier, "text: %s", tt.text)
		})
	}
}

func TestClassifyDeepWorkWinsOverComplex(t *testing.T) {
	c := NewClassifier()

	// Matches both deep work ("research") and complex work ("build ... tool");
	// the deep work rule is checked first.
	res := c.Classify("Research existing solutions and build a tool that automates our release notes")
	assert.Equal(t, TierDeepWork, res.Tier)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, 180*time.Second, res.EstimatedDuration)
}

func TestClassifyFallback(t *testing.T) {
	c := NewClassifier()

	// Long enough to dodge the short-message rule, matches nothing else.
	res := c.Classify("the quarterly numbers were discussed at the meeting on tuesday afternoon again")
	require.Equal(t, TierComplexWork, res.Tier)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	assert.Equal(t, 60*time.Second, res.EstimatedDuration)
}

func TestClassifyConfidenceBounds(t *testing.T) {
	c := NewClassifier()

	inputs := []string{
		"hi",
		"research quantum computing trade-offs",
		"build me an app for tracking plants",
		"calculate 2+2",
		strings.Repeat("comprehensive detailed analysis of distributed database architecture ", 10),
		"",
	}
	for _, text := range inputs {
		res := c.Classify(text)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, "text: %q", text)
		assert.LessOrEqual(t, res.Confidence, 1.0, "text: %q", text)
		assert.NotEmpty(t, res.Reasoning, "text: %q", text)
	}
}

func TestIsAsyncCandidate(t *testing.T) {
	assert.True(t, IsAsyncCandidate(TierDeepWork))
	assert.True(t, IsAsyncCandidate(TierComplexWork))
	assert.False(t, IsAsyncCandidate(TierSimpleTool))
	assert.False(t, IsAsyncCandidate(TierSimpleConversation))
}

func TestComplexityScoreClamped(t *testing.T) {
	// Every high-complexity keyword plus length bonus would exceed 1
	// without the clamp.
	loaded := strings.Join(highComplexityKeywords, " ") + strings.Repeat(" and more context", 10)
	assert.Equal(t, 1.0, ComplexityScore(loaded))

	// Short text stacked with low-complexity keywords bottoms out at 0.
	assert.Equal(t, 0.0, ComplexityScore("just a quick simple basic thing"))
}

func TestComplexityScoreNeutral(t *testing.T) {
	// No keywords, mid-length: base score with no adjustments.
	text := "we talked about the roadmap yesterday and agreed on the plan for it"
	assert.InDelta(t, 0.5, ComplexityScore(text), 1e-9)
}

func TestComplexityScoreKeywordAdjustments(t *testing.T) {
	// One high keyword, length in the neutral band (50..200).
	text := "the pipeline needs attention before the release happens next week ok"
	require.GreaterOrEqual(t, len(text), 50)
	require.LessOrEqual(t, len(text), 200)
	assert.InDelta(t, 0.6, ComplexityScore(text), 1e-9)
}
