package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/sidework/internal/classify"
	"github.com/ashureev/sidework/internal/config"
	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/events"
	"github.com/ashureev/sidework/internal/identity"
	"github.com/ashureev/sidework/internal/messaging"
	"github.com/ashureev/sidework/internal/notify"
	"github.com/ashureev/sidework/internal/offer"
	"github.com/ashureev/sidework/internal/orchestrator"
	"github.com/ashureev/sidework/internal/progress"
	"github.com/ashureev/sidework/internal/scheduler"
	"github.com/ashureev/sidework/internal/session"
)

const testDeviceID = "anon_0123456789abcdef0123456789abcdef"

type apiEnv struct {
	sessions *session.Store
	messages *messaging.Service
	notifier *notify.Center
	sched    *scheduler.Scheduler
	router   chi.Router

	closedChannels []string
}

type channelCloserFunc func(sessionID string)

func (f channelCloserFunc) CloseSession(sessionID string) { f(sessionID) }

func newAPIEnv(t *testing.T, cfg *config.Config) *apiEnv {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{
			RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
			SSE:       config.SSEConfig{MaxRequestBodySize: 1 << 20, ReplayQueueSize: 10},
		}
	}

	sessions := session.NewStore(nil)
	emitter := events.NewEmitter()
	notifier := notify.NewCenter(emitter)
	registry := progress.NewRegistry(time.Minute)
	messages := messaging.NewService(emitter, 0)
	sched := scheduler.New(
		scheduler.Config{MaxConcurrent: 3, ExecTimeout: 5 * time.Second},
		sessions, emitter, notifier, registry,
	)
	t.Cleanup(sched.Stop)
	sched.RegisterExecutor(domain.WorkTypeResearch, func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		return "ok", nil
	})

	nextID := 0
	orch := orchestrator.New(
		offer.NewDetector(classify.NewClassifier()),
		sessions, sched, notifier,
		orchestrator.NewAdvisor(sessions, notifier),
		func() string {
			nextID++
			return fmt.Sprintf("work-%d", nextID)
		},
	)

	env := &apiEnv{
		sessions: sessions,
		messages: messages,
		notifier: notifier,
		sched:    sched,
	}

	base := NewHandler(orch, sessions, sched, messages, registry, notifier, nil, cfg)
	router := chi.NewRouter()
	router.Use(identity.Middleware(true))
	closer := channelCloserFunc(func(sessionID string) {
		env.closedChannels = append(env.closedChannels, sessionID)
	})
	NewConversationHandler(base, closer).RegisterRoutes(router)
	NewWorkHandler(base).RegisterRoutes(router)
	NewMessageHandler(base).RegisterRoutes(router)

	env.router = router
	return env
}

func (e *apiEnv) do(method, path, sessionID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testDeviceID})
	if sessionID != "" {
		req.Header.Set(identity.SessionHeaderName, sessionID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestProcessConversationTurn(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/conversation/process", "chat-1", ProcessRequest{
		Message:        "Can you research the best message broker for our event pipeline?",
		CandidateReply: "Here's a quick take.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[orchestrator.Result](t, rec)
	assert.True(t, result.OfferMade)
	assert.NotEmpty(t, result.WorkID)
	assert.Contains(t, result.FinalReply, "background")
}

func TestSessionDelete(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/conversation/process", "chat-1", ProcessRequest{
		Message:        "hello there",
		CandidateReply: "Hi!",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotZero(t, env.sessions.ConversationLength("chat-1"))

	rec = env.do(http.MethodDelete, "/api/session", "chat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The live message channel is torn down and state is gone.
	assert.Equal(t, []string{"chat-1"}, env.closedChannels)
	assert.Zero(t, env.sessions.ConversationLength("chat-1"))
}

func TestProcessValidation(t *testing.T) {
	env := newAPIEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/conversation/process", "chat-1", ProcessRequest{CandidateReply: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/conversation/process", bytes.NewBufferString("{not json"))
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testDeviceID})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessRateLimitByDevice(t *testing.T) {
	env := newAPIEnv(t, &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		SSE:       config.SSEConfig{MaxRequestBodySize: 1 << 20, ReplayQueueSize: 10},
	})

	body := ProcessRequest{Message: "hello", CandidateReply: "hi"}
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/conversation/process", "chat-1", body).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/conversation/process", "chat-2", body).Code)

	// Rotating the session ID does not evade the device-keyed limit.
	rec := env.do(http.MethodPost, "/api/conversation/process", "chat-3", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWorkListAndCancel(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.sessions.AddAsyncWork("chat-1", &domain.AsyncWorkItem{
		ID:        "w1",
		SessionID: "chat-1",
		Type:      domain.WorkTypeResearch,
		Request:   "look into it",
		Status:    domain.StatusPendingOffer,
		CreatedAt: time.Now(),
	})
	offered := domain.StatusOffered
	require.NotNil(t, env.sessions.UpdateAsyncWork("chat-1", "w1", session.WorkUpdate{Status: &offered}))

	rec := env.do(http.MethodGet, "/api/work", "chat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		SessionID string            `json:"session_id"`
		Work      []json.RawMessage `json:"work"`
	}](t, rec)
	assert.Equal(t, "chat-1", list.SessionID)
	assert.Len(t, list.Work, 1)

	// Another session sees nothing.
	rec = env.do(http.MethodGet, "/api/work", "chat-2", nil)
	list = decode[struct {
		SessionID string            `json:"session_id"`
		Work      []json.RawMessage `json:"work"`
	}](t, rec)
	assert.Empty(t, list.Work)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/work/nope/cancel", "chat-1", nil).Code)

	// An offered item cancels directly in the session.
	rec = env.do(http.MethodPost, "/api/work/w1/cancel", "chat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	item := env.sessions.WorkItem("chat-1", "w1")
	require.NotNil(t, item)
	assert.Equal(t, domain.StatusCancelled, item.Status)

	// A second cancel hits the terminal state.
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/work/w1/cancel", "chat-1", nil).Code)
}

func TestWorkStatus(t *testing.T) {
	env := newAPIEnv(t, nil)
	env.notifier.NotifyCompletion("chat-1", "w9", "result")

	rec := env.do(http.MethodGet, "/api/work/status", "chat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[struct {
		Queued        int               `json:"queued"`
		Executing     int               `json:"executing"`
		ActiveWork    []json.RawMessage `json:"active_work"`
		Notifications []json.RawMessage `json:"notifications"`
	}](t, rec)
	assert.Zero(t, status.Queued)
	assert.Zero(t, status.Executing)
	assert.Empty(t, status.ActiveWork)
	assert.Len(t, status.Notifications, 1)
}

func TestMessageEndpoints(t *testing.T) {
	env := newAPIEnv(t, nil)
	msgID := env.messages.SendToUser("w1", "chat-1", domain.MessageQuestion, "Which region?", true)

	rec := env.do(http.MethodGet, "/api/messages/pending", "chat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[struct {
		Pending []domain.AsyncMessage `json:"pending"`
	}](t, rec)
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, msgID, pending.Pending[0].ID)

	rec = env.do(http.MethodPost, "/api/messages/"+msgID+"/respond", "chat-1", map[string]string{"content": "eu-west"})
	require.Equal(t, http.StatusOK, rec.Code)
	response := decode[domain.AsyncMessage](t, rec)
	assert.Equal(t, domain.MessageResponse, response.Type)
	assert.Equal(t, "eu-west", response.Content)

	// Replays and other sessions are rejected.
	assert.Equal(t, http.StatusNotFound,
		env.do(http.MethodPost, "/api/messages/"+msgID+"/respond", "chat-1", map[string]string{"content": "again"}).Code)
	assert.Equal(t, http.StatusNotFound,
		env.do(http.MethodPost, "/api/messages/unknown/respond", "chat-1", map[string]string{"content": "hi"}).Code)

	assert.Equal(t, http.StatusBadRequest,
		env.do(http.MethodPost, "/api/messages/"+msgID+"/respond", "chat-1", map[string]string{}).Code)
}

func TestJSONHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"foo": "bar"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	got := decode[map[string]string](t, w)
	assert.Equal(t, "bar", got["foo"])

	w = httptest.NewRecorder()
	Error(w, http.StatusTeapot, "nope")
	assert.Equal(t, http.StatusTeapot, w.Code)
	got = decode[map[string]string](t, w)
	assert.Equal(t, "nope", got["error"])
}
