package offer

import (
	"fmt"
	"regexp"
	"strings"
)

// The correlation marker is wrapped in zero-width spaces so it survives a
// round trip through the reply text without being visible to the user.
// It is the only channel tying a later confirmation back to its offer.
const (
	markerPrefix = "​[sidework:"
	markerSuffix = "]​"
)

var markerPattern = regexp.MustCompile(`\x{200b}\[sidework:([A-Za-z0-9-]+)\]\x{200b}`)

// InjectionResult describes how an offer was merged into a reply.
type InjectionResult struct {
	ModifiedResponse string
	OfferInjected    bool
	Position         string // "start", "after_paragraph" or "end"
}

// Marker renders the invisible correlation marker for a work item.
func Marker(workID string) string {
	return markerPrefix + workID + markerSuffix
}

// Inject merges an offer into responseText, tagged with the work item's
// correlation marker. Placement depends on the length of the base reply:
// short replies get the offer appended, medium replies get it after the
// first paragraph break, long replies get it up front.
func Inject(responseText string, opp Opportunity, workID string) InjectionResult {
	if !opp.ShouldOffer {
		return InjectionResult{ModifiedResponse: responseText}
	}

	tagged := opp.OfferMessage + Marker(workID)
	words := len(strings.Fields(responseText))

	switch {
	case words < 20:
		return InjectionResult{
			ModifiedResponse: responseText + "\n\n" + tagged,
			OfferInjected:    true,
			Position:         "end",
		}
	case words < 50:
		if idx := strings.Index(responseText, "\n\n"); idx >= 0 {
			modified := responseText[:idx] + "\n\n" + tagged + responseText[idx:]
			return InjectionResult{
				ModifiedResponse: modified,
				OfferInjected:    true,
				Position:         "after_paragraph",
			}
		}
		return InjectionResult{
			ModifiedResponse: responseText + "\n\n" + tagged,
			OfferInjected:    true,
			Position:         "end",
		}
	default:
		return InjectionResult{
			ModifiedResponse: tagged + "\n\n" + responseText,
			OfferInjected:    true,
			Position:         "start",
		}
	}
}

// RemoveMarker strips all correlation markers from text before display.
func RemoveMarker(text string) string {
	return markerPattern.ReplaceAllString(text, "")
}

// ExtractWorkID parses the work id back out of a marked reply.
func ExtractWorkID(text string) (string, bool) {
	m := markerPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ContainsOffer reports whether text carries a correlation marker.
func ContainsOffer(text string) bool {
	return markerPattern.MatchString(text)
}

// String implements fmt.Stringer for logging injection outcomes.
func (r InjectionResult) String() string {
	if !r.OfferInjected {
		return "no offer injected"
	}
	return fmt.Sprintf("offer injected at %s", r.Position)
}
