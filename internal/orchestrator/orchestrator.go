// Package orchestrator composes classification, offers, the session
// store, the scheduler and continuity guidance into one
// request-response workflow step.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/sidework/internal/classify"
	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/offer"
	"github.com/ashureev/sidework/internal/scheduler"
	"github.com/ashureev/sidework/internal/session"
)

// recentOfferWindow is how many trailing messages are scanned for an
// offer flag. Confirmations arriving later than this are not correlated.
const recentOfferWindow = 3

// Result is the outcome of one conversational turn.
type Result struct {
	FinalReply  string        `json:"final_reply"`
	OfferMade   bool          `json:"offer_made,omitempty"`
	WorkQueued  bool          `json:"work_queued,omitempty"`
	WorkID      string        `json:"work_id,omitempty"`
	Tier        classify.Tier `json:"tier,omitempty"`
	Confidence  float64       `json:"confidence,omitempty"`
	Declined    bool          `json:"declined,omitempty"`
}

// Orchestrator is the single entry point consumed by the conversational
// turn handler.
type Orchestrator struct {
	detector *offer.Detector
	sessions *session.Store
	sched    *scheduler.Scheduler
	notifier *notify.Center
	advisor  *Advisor

	newWorkID func() string
}

// New creates the orchestrator.
func New(detector *offer.Detector, sessions *session.Store, sched *scheduler.Scheduler, notifier *notify.Center, advisor *Advisor, newWorkID func() string) *Orchestrator {
	return &Orchestrator{
		detector:  detector,
		sessions:  sessions,
		sched:     sched,
		notifier:  notifier,
		advisor:   advisor,
		newWorkID: newWorkID,
	}
}

// Process runs one conversational turn: recognize a confirmation of a
// pending offer (and queue the work), or screen the request for a new
// async opportunity (and inject an offer), then fold in continuity cues.
// The returned reply has correlation markers stripped; the stored
// history keeps them, since they are the only channel tying a later
// confirmation back to its offer.
func (o *Orchestrator) Process(ctx context.Context, sessionID, userMessage, candidateReply string) Result {
	hadRecentOffer := o.sessions.HadRecentOffer(sessionID, recentOfferWindow)
	conf := offer.DetectConfirmation(userMessage, hadRecentOffer)

	o.sessions.AddMessage(sessionID, domain.ConversationMessage{
		Role:                 domain.RoleUser,
		Text:                 userMessage,
		Timestamp:            time.Now(),
		ContainsConfirmation: conf.IsConfirmation && hadRecentOffer,
	})

	result := Result{FinalReply: candidateReply}

	switch {
	case conf.IsConfirmation && hadRecentOffer:
		o.handleAcceptance(sessionID, conf, &result)
	case conf.IsRejection && hadRecentOffer:
		o.handleDecline(sessionID, &result)
	default:
		o.handleOpportunity(sessionID, userMessage, candidateReply, &result)
	}

	guidance := o.advisor.GetGuidance(sessionID, userMessage)
	result.FinalReply = o.advisor.InjectContinuityCues(result.FinalReply, guidance)
	if guidance.ShouldMentionCompletion {
		o.notifier.ClearAll(sessionID)
	}

	o.sessions.AddMessage(sessionID, domain.ConversationMessage{
		Role:          domain.RoleAssistant,
		Text:          result.FinalReply,
		Timestamp:     time.Now(),
		ContainsOffer: result.OfferMade,
	})

	result.FinalReply = offer.RemoveMarker(result.FinalReply)
	return result
}

// handleAcceptance correlates the confirmation to its offer via the
// marker in recent history, marks the item accepted and enqueues it.
func (o *Orchestrator) handleAcceptance(sessionID string, conf offer.Confirmation, result *Result) {
	workID, ok := o.findRecentOfferWorkID(sessionID)
	if !ok {
		slog.Warn("Confirmation without correlatable offer", "session_id", sessionID)
		return
	}

	item := o.sessions.WorkItem(sessionID, workID)
	if item == nil || item.Status != domain.StatusOffered {
		slog.Warn("Confirmed offer not in offered state", "session_id", sessionID, "work_id", workID)
		return
	}

	accepted := domain.StatusAccepted
	if o.sessions.UpdateAsyncWork(sessionID, workID, session.WorkUpdate{Status: &accepted}) == nil {
		return
	}

	queued := &domain.QueuedWork{
		ID:         workID,
		SessionID:  sessionID,
		Request:    item.Request,
		Type:       item.Type,
		Priority:   priorityFor(item.Type),
		EnqueuedAt: time.Now(),
	}
	if err := o.sched.Enqueue(queued); err != nil {
		slog.Error("Failed to enqueue accepted work", "work_id", workID, "error", err)
		// The item never started, so it is cancelled rather than failed.
		cancelled := domain.StatusCancelled
		errMsg := err.Error()
		now := time.Now()
		o.sessions.UpdateAsyncWork(sessionID, workID, session.WorkUpdate{
			Status:      &cancelled,
			CompletedAt: &now,
			Error:       &errMsg,
		})
		return
	}

	slog.Info("Offer accepted, work queued",
		"session_id", sessionID,
		"work_id", workID,
		"confirmation_type", conf.Type)

	result.WorkQueued = true
	result.WorkID = workID
	result.FinalReply += "\n\nOn it — I'll work on that in the background and let you know as soon as it's ready."
}

// handleDecline cancels the offered item and records the decline.
func (o *Orchestrator) handleDecline(sessionID string, result *Result) {
	workID, ok := o.findRecentOfferWorkID(sessionID)
	if !ok {
		return
	}
	item := o.sessions.WorkItem(sessionID, workID)
	if item == nil || item.Status != domain.StatusOffered {
		return
	}

	cancelled := domain.StatusCancelled
	o.sessions.UpdateAsyncWork(sessionID, workID, session.WorkUpdate{Status: &cancelled})
	o.sessions.RecordDecline(sessionID)
	slog.Info("Offer declined", "session_id", sessionID, "work_id", workID)
	result.Declined = true
}

// handleOpportunity screens the request and, when warranted, creates a
// work item and injects the offer into the candidate reply.
func (o *Orchestrator) handleOpportunity(sessionID, userMessage, candidateReply string, result *Result) {
	sess := o.sessions.GetOrCreate(sessionID)
	opp := o.detector.Detect(
		userMessage,
		len(sess.ActiveWork()),
		sess.Preferences.HasAcceptedAsyncBefore,
		len(sess.Messages),
	)
	result.Tier = opp.Tier
	result.Confidence = opp.Confidence

	if !opp.ShouldOffer {
		return
	}

	item := &domain.AsyncWorkItem{
		ID:                o.newWorkID(),
		SessionID:         sessionID,
		Type:              workTypeFor(opp.Tier),
		Request:           userMessage,
		Status:            domain.StatusPendingOffer,
		EstimatedDuration: opp.EstimatedDuration,
		CreatedAt:         time.Now(),
	}
	o.sessions.AddAsyncWork(sessionID, item)

	injection := offer.Inject(candidateReply, opp, item.ID)
	if !injection.OfferInjected {
		return
	}

	offered := domain.StatusOffered
	o.sessions.UpdateAsyncWork(sessionID, item.ID, session.WorkUpdate{Status: &offered})

	slog.Info("Async offer made",
		"session_id", sessionID,
		"work_id", item.ID,
		"tier", opp.Tier,
		"confidence", opp.Confidence,
		"position", injection.Position)

	result.FinalReply = injection.ModifiedResponse
	result.OfferMade = true
	result.WorkID = item.ID
}

// findRecentOfferWorkID extracts the correlation marker from the most
// recent offer-flagged message.
func (o *Orchestrator) findRecentOfferWorkID(sessionID string) (string, bool) {
	sess := o.sessions.GetOrCreate(sessionID)
	recent := sess.RecentMessages(recentOfferWindow + 1)
	for i := len(recent) - 1; i >= 0; i-- {
		if !recent[i].ContainsOffer {
			continue
		}
		if workID, ok := offer.ExtractWorkID(recent[i].Text); ok {
			return workID, true
		}
	}
	return "", false
}

// workTypeFor maps a tier to the executor that owns it.
func workTypeFor(tier classify.Tier) domain.WorkType {
	if tier == classify.TierDeepWork {
		return domain.WorkTypeResearch
	}
	return domain.WorkTypeTool
}

// priorityFor favors shorter work on a contended queue.
func priorityFor(t domain.WorkType) int {
	if t == domain.WorkTypeTool {
		return 20
	}
	return 10
}
