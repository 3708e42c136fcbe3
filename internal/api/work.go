package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/identity"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/session"
	"github.com/go-chi/chi/v5"
)

// WorkHandler handles work item endpoints.
type WorkHandler struct {
	*Handler
}

// NewWorkHandler creates a new work handler.
func NewWorkHandler(base *Handler) *WorkHandler {
	return &WorkHandler{Handler: base}
}

// RegisterRoutes registers work routes.
func (h *WorkHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/work", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/status", h.GetStatus)
		r.Post("/{workID}/cancel", h.Cancel)
		r.Get("/{workID}/thread", h.GetThread)
	})
}

// workView is the wire shape of a work item, with live progress folded in.
type workView struct {
	*domain.AsyncWorkItem
	Progress *progress.Update `json:"progress,omitempty"`
}

func (h *WorkHandler) workView(item *domain.AsyncWorkItem) workView {
	v := workView{AsyncWorkItem: item}
	if tracker := h.registry.Get(item.ID); tracker != nil {
		current := tracker.Current()
		v.Progress = &current
	}
	return v
}

// List returns all work items for the session, newest first.
func (h *WorkHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	sess := h.sessions.GetOrCreate(sessionID)

	views := make([]workView, 0, len(sess.Work))
	for i := len(sess.Work) - 1; i >= 0; i-- {
		views = append(views, h.workView(sess.Work[i]))
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"work":       views,
	})
}

// GetStatus returns the scheduler occupancy plus this session's active
// work and any pending completion notifications.
func (h *WorkHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())

	active := h.sessions.GetActiveWork(sessionID)
	views := make([]workView, 0, len(active))
	for _, item := range active {
		views = append(views, h.workView(item))
	}

	status := h.sched.GetStatus()
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sessionID,
		"queued":        status.Queued,
		"executing":     status.Executing,
		"active_work":   views,
		"notifications": h.notifier.PendingFor(sessionID),
		"unread":        h.messages.GetUnreadMessages(sessionID),
	})
}

// Cancel cancels a queued work item. Executing work is past the point of
// no return and reports a conflict instead.
func (h *WorkHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	workID := chi.URLParam(r, "workID")

	item := h.sessions.WorkItem(sessionID, workID)
	if item == nil {
		Error(w, http.StatusNotFound, "work item not found")
		return
	}

	if h.sched.Cancel(workID) {
		slog.Info("Work cancelled", "session_id", sessionID, "work_id", workID)
		JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}

	if h.sched.IsExecuting(workID) {
		Error(w, http.StatusConflict, "work is already executing")
		return
	}
	if item.Status.IsTerminal() {
		Error(w, http.StatusConflict, "work already finished")
		return
	}

	// Offered but never queued: cancel it directly in the session.
	cancelled := domain.StatusCancelled
	if h.sessions.UpdateAsyncWork(sessionID, workID, session.WorkUpdate{Status: &cancelled}) != nil {
		slog.Info("Offered work cancelled", "session_id", sessionID, "work_id", workID)
		JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	Error(w, http.StatusConflict, "work cannot be cancelled")
}

// GetThread returns the message thread for a work item.
func (h *WorkHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	workID := chi.URLParam(r, "workID")

	if h.sessions.WorkItem(sessionID, workID) == nil {
		Error(w, http.StatusNotFound, "work item not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"work_id": workID,
		"thread":  h.messages.GetThread(workID),
	})
}
