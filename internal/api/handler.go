// Package api provides HTTP handlers for the async work API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/sidework/internal/config"
	"github.com/ashureev/sidework/internal/messaging"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/orchestrator"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/scheduler"
	"github.com/ashureev/sidework/internal/session"
	"github.com/ashureev/sidework/internal/store"
)

// Handler provides common handler utilities and shared dependencies.
type Handler struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Store
	sched    *scheduler.Scheduler
	messages *messaging.Service
	registry *progress.Registry
	notifier *notify.Center
	repo     store.Repository
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(orch *orchestrator.Orchestrator, sessions *session.Store, sched *scheduler.Scheduler, messages *messaging.Service, registry *progress.Registry, notifier *notify.Center, repo store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		orch:     orch,
		sessions: sessions,
		sched:    sched,
		messages: messages,
		registry: registry,
		notifier: notifier,
		repo:     repo,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
