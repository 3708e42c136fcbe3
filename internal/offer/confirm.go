package offer

import (
	"regexp"
	"strings"
)

// ConfirmationType labels how a confirmation was recognized.
type ConfirmationType string

const (
	ConfirmationExplicit ConfirmationType = "explicit"
	ConfirmationImplicit ConfirmationType = "implicit"
	ConfirmationNone     ConfirmationType = "none"
)

// Confirmation is the verdict on whether a message accepts a pending offer.
type Confirmation struct {
	IsConfirmation bool
	IsRejection    bool
	Confidence     float64
	Type           ConfirmationType
	Reasoning      string
}

var explicitAcceptPattern = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|yup|sure|ok(ay)?|sounds good|go ahead|do it|please do|yes please|absolutely|definitely)\s*[.!]*\s*$`)

var rejectionPattern = regexp.MustCompile(`(?i)^\s*(no|nope|nah|no thanks|no thank you|don't|do not|not now|maybe later|skip it|cancel)\b`)

var implicitAcceptPattern = regexp.MustCompile(`(?i)\b(go for it|that works|works for me|why not|let'?s do it|let'?s go|make it so|proceed|start it|get started|that would be great)\b`)

var positiveSentimentKeywords = []string{
	"good", "great", "fine", "perfect", "nice", "awesome", "love", "like", "helpful",
}

// DetectConfirmation classifies whether text accepts a pending async
// offer. Explicit acceptance and rejection are recognized with high
// confidence, implicit acceptance slightly lower. When nothing matches
// but an offer was made within the last few turns, positive sentiment is
// taken as a weak acceptance signal.
func DetectConfirmation(text string, hadRecentOffer bool) Confirmation {
	if explicitAcceptPattern.MatchString(text) {
		return Confirmation{
			IsConfirmation: true,
			Confidence:     0.95,
			Type:           ConfirmationExplicit,
			Reasoning:      "explicit acceptance",
		}
	}

	if rejectionPattern.MatchString(text) {
		return Confirmation{
			IsConfirmation: false,
			IsRejection:    true,
			Confidence:     0.95,
			Type:           ConfirmationNone,
			Reasoning:      "explicit rejection",
		}
	}

	if implicitAcceptPattern.MatchString(text) {
		return Confirmation{
			IsConfirmation: true,
			Confidence:     0.8,
			Type:           ConfirmationImplicit,
			Reasoning:      "implicit acceptance",
		}
	}

	if hadRecentOffer {
		lower := strings.ToLower(text)
		for _, kw := range positiveSentimentKeywords {
			if strings.Contains(lower, kw) {
				return Confirmation{
					IsConfirmation: true,
					Confidence:     0.65,
					Type:           ConfirmationImplicit,
					Reasoning:      "positive sentiment after recent offer",
				}
			}
		}
	}

	return Confirmation{
		IsConfirmation: false,
		Confidence:     0.5,
		Type:           ConfirmationNone,
		Reasoning:      "no confirmation signal",
	}
}
