package orchestrator

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/session"
)

// Guidance tells the reply path what background context to surface.
type Guidance struct {
	ShouldMentionActiveWork bool     `json:"should_mention_active_work"`
	ShouldMentionCompletion bool     `json:"should_mention_completion"`
	ContextPrompt           string   `json:"context_prompt,omitempty"`
	CompletionMessages      []string `json:"completion_messages,omitempty"`
}

var statusQueryPattern = regexp.MustCompile(`(?i)\b(status|progress|done yet|finished yet|how('s| is) (it|that|the work) (going|coming)|update on|any news)\b`)

// reminderInterval controls the periodic active-work reminder: every
// fifth turn, so the mention stays non-intrusive.
const reminderInterval = 5

// Advisor derives continuity guidance from session state and pending
// notifications.
type Advisor struct {
	sessions *session.Store
	notifier *notify.Center

	// randFloat is swappable in tests; defaults to math/rand.
	randFloat func() float64
}

// NewAdvisor creates a continuity advisor.
func NewAdvisor(sessions *session.Store, notifier *notify.Center) *Advisor {
	return &Advisor{
		sessions:  sessions,
		notifier:  notifier,
		randFloat: rand.Float64,
	}
}

// GetGuidance decides whether the next reply should mention completed or
// still-running background work. Completions are always surfaced; active
// work is mentioned when the user asks about it or on a periodic cadence.
func (a *Advisor) GetGuidance(sessionID, lastMessage string) Guidance {
	g := Guidance{}

	for _, n := range a.notifier.PendingFor(sessionID) {
		g.CompletionMessages = append(g.CompletionMessages, n.Message)
	}
	g.ShouldMentionCompletion = len(g.CompletionMessages) > 0

	active := a.sessions.GetActiveWork(sessionID)
	if len(active) > 0 {
		isStatusQuery := statusQueryPattern.MatchString(lastMessage)
		convLen := a.sessions.ConversationLength(sessionID)
		if isStatusQuery || (convLen > 0 && convLen%reminderInterval == 0) {
			g.ShouldMentionActiveWork = true
		}
		g.ContextPrompt = fmt.Sprintf("%d background task(s) still running", len(active))
	}

	return g
}

// InjectContinuityCues prepends completion messages to the reply and,
// with low probability, appends a soft reminder of still-running work —
// deliberately probabilistic so the reminder never becomes mechanical.
func (a *Advisor) InjectContinuityCues(reply string, g Guidance) string {
	var parts []string
	if g.ShouldMentionCompletion {
		parts = append(parts, strings.Join(g.CompletionMessages, "\n"))
	}
	parts = append(parts, reply)

	out := strings.Join(parts, "\n\n")
	if g.ShouldMentionActiveWork && a.randFloat() < 0.3 {
		out += "\n\n(Still working on your background task — I'll let you know the moment it's done.)"
	}
	return out
}
