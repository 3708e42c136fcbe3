package offer

import (
	"strings"
	"testing"

	"github.com/ashureev/sidework/internal/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpportunity() Opportunity {
	return Opportunity{
		ShouldOffer:  true,
		Confidence:   0.85,
		OfferMessage: "I can dig into this in the background. Want me to?",
		Tier:         classify.TierDeepWork,
	}
}

func TestInjectShortReplyAppends(t *testing.T) {
	res := Inject("Sure, happy to help.", testOpportunity(), "work-1")
	require.True(t, res.OfferInjected)
	assert.Equal(t, "end", res.Position)
	assert.True(t, strings.HasPrefix(res.ModifiedResponse, "Sure, happy to help."))
	assert.Contains(t, res.ModifiedResponse, Marker("work-1"))
}

func TestInjectMediumReplyAfterParagraph(t *testing.T) {
	first := "This is the opening paragraph with a handful of words in it for you."
	second := "And here is the second paragraph which carries the rest of the reply text onward."
	reply := first + "\n\n" + second

	res := Inject(reply, testOpportunity(), "work-2")
	require.True(t, res.OfferInjected)
	assert.Equal(t, "after_paragraph", res.Position)

	// The offer lands between the two paragraphs.
	offerIdx := strings.Index(res.ModifiedResponse, Marker("work-2"))
	secondIdx := strings.Index(res.ModifiedResponse, second)
	assert.Greater(t, offerIdx, len(first))
	assert.Greater(t, secondIdx, offerIdx)
}

func TestInjectMediumReplyWithoutParagraphBreak(t *testing.T) {
	reply := strings.Repeat("word ", 30) // 30 words, no paragraph break
	res := Inject(reply, testOpportunity(), "work-3")
	require.True(t, res.OfferInjected)
	assert.Equal(t, "end", res.Position)
}

func TestInjectLongReplyPrepends(t *testing.T) {
	reply := strings.Repeat("word ", 60)
	res := Inject(reply, testOpportunity(), "work-4")
	require.True(t, res.OfferInjected)
	assert.Equal(t, "start", res.Position)
	assert.True(t, strings.HasPrefix(res.ModifiedResponse, testOpportunity().OfferMessage))
}

func TestInjectNoOffer(t *testing.T) {
	res := Inject("Just a reply.", Opportunity{}, "work-5")
	assert.False(t, res.OfferInjected)
	assert.Equal(t, "Just a reply.", res.ModifiedResponse)
}

func TestMarkerRoundTrip(t *testing.T) {
	res := Inject("Short reply here.", testOpportunity(), "abc-123")

	id, ok := ExtractWorkID(res.ModifiedResponse)
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)
	assert.True(t, ContainsOffer(res.ModifiedResponse))

	clean := RemoveMarker(res.ModifiedResponse)
	assert.False(t, ContainsOffer(clean))
	_, ok = ExtractWorkID(clean)
	assert.False(t, ok)

	// The visible offer text survives; only the marker is stripped.
	assert.Contains(t, clean, testOpportunity().OfferMessage)

	// Stripping again is a no-op.
	assert.Equal(t, clean, RemoveMarker(clean))
}

func TestMarkerInvisible(t *testing.T) {
	m := Marker("work-9")
	assert.True(t, strings.HasPrefix(m, "​"))
	assert.True(t, strings.HasSuffix(m, "​"))
}
