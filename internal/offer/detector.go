// Package offer decides when to propose background execution, injects the
// offer into a reply, and recognizes the user's answer to it.
package offer

import (
	"fmt"
	"time"

	"github.com/ashureev/sidework/internal/classify"
)

// Opportunity is the result of screening one request for async execution.
type Opportunity struct {
	ShouldOffer       bool
	Confidence        float64
	EstimatedDuration time.Duration
	OfferMessage      string
	Tier              classify.Tier
}

// Detector screens requests for async execution opportunities.
type Detector struct {
	classifier *classify.Classifier
}

// NewDetector creates an opportunity detector on top of a classifier.
func NewDetector(classifier *classify.Classifier) *Detector {
	return &Detector{classifier: classifier}
}

// Detect decides whether to offer background execution for text.
// A session with active work is never offered more (no double-offers).
// Confidence starts from the classifier, gains 0.1 if the user accepted
// before, and loses 0.2 in a conversation younger than two turns; the
// offer is made above 0.6.
func (d *Detector) Detect(text string, activeWorkCount int, acceptedBefore bool, conversationLength int) Opportunity {
	res := d.classifier.Classify(text)

	if !classify.IsAsyncCandidate(res.Tier) {
		return Opportunity{Tier: res.Tier}
	}

	if activeWorkCount > 0 {
		return Opportunity{
			Tier:              res.Tier,
			Confidence:        res.Confidence,
			EstimatedDuration: res.EstimatedDuration,
		}
	}

	confidence := res.Confidence
	if acceptedBefore {
		confidence += 0.1
		if confidence > 1.0 {
			confidence = 1.0
		}
	}
	if conversationLength < 2 {
		confidence -= 0.2
		if confidence < 0 {
			confidence = 0
		}
	}

	opp := Opportunity{
		ShouldOffer:       confidence > 0.6,
		Confidence:        confidence,
		EstimatedDuration: res.EstimatedDuration,
		Tier:              res.Tier,
	}
	if opp.ShouldOffer {
		opp.OfferMessage = offerMessage(res.Tier, res.EstimatedDuration)
	}
	return opp
}

func offerMessage(tier classify.Tier, estimate time.Duration) string {
	bucket := durationBucket(estimate)
	if tier == classify.TierDeepWork {
		return fmt.Sprintf("This looks like it deserves proper research. I can dig into it in the background (%s) while we keep talking — want me to?", bucket)
	}
	return fmt.Sprintf("I can work on this in the background (%s) and let you know when it's done. Want me to?", bucket)
}

// durationBucket renders an estimate as human-readable text: seconds
// below a minute, minutes below five, "a few minutes" beyond.
func durationBucket(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("~%ds", secs)
	case secs < 300:
		mins := secs / 60
		if mins == 1 {
			return "~1 minute"
		}
		return fmt.Sprintf("~%d minutes", mins)
	default:
		return "a few minutes"
	}
}
