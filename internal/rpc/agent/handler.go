package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Jacky040124/openquest/internal/agent"
	"github.com/Jacky040124/openquest/internal/observability"
	"github.com/Jacky040124/openquest/internal/rpc"
	"github.com/Jacky040124/openquest/internal/session"
)

// ErrSessionNotFound is returned when an implement request names an unknown
// or expired session.
var ErrSessionNotFound = errors.New("session not found or expired; analyze the issue again")

// Service runs agent operations and yields streamed events.
type Service interface {
	Analyze(ctx context.Context, req agent.AnalyzeRequest) <-chan agent.Event
	Implement(ctx context.Context, req agent.ImplementRequest) <-chan agent.Event
}

// Handler serves the agent endpoints over NDJSON streaming HTTP. The solution
// event of every analysis is intercepted to persist the session so a later
// implement call can pick it up by id.
type Handler struct {
	service Service
	store   *session.Store
	metrics *observability.Metrics
}

// NewHandler constructs a handler instance.
func NewHandler(service Service, store *session.Store, metrics *observability.Metrics) *Handler {
	return &Handler{service: service, store: store, metrics: metrics}
}

// streamAnalyze starts an analysis run and persists the solution event's
// payload under a fresh session id as it passes through.
func (h *Handler) streamAnalyze(ctx context.Context, req rpc.AnalyzeRequest) (<-chan agent.Event, error) {
	if req.RepoURL == "" {
		return nil, errors.New("repo_url is required")
	}
	if req.IssueNumber <= 0 {
		return nil, errors.New("issue_number is required")
	}

	sessionID := session.NewID()
	in := h.service.Analyze(ctx, agent.AnalyzeRequest{
		SessionID:   sessionID,
		RepoURL:     req.RepoURL,
		IssueNumber: req.IssueNumber,
		IssueTitle:  req.IssueTitle,
		IssueBody:   req.IssueBody,
		Model:       req.Model,
	})

	out := make(chan agent.Event, 16)
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Type == agent.EventSolution && ev.Solution != nil {
				h.store.Put(sessionID, req.RepoURL, req.IssueNumber, req.IssueTitle, ev.Solution)
			}
			out <- ev
		}
	}()
	return out, nil
}

// streamImplement resolves the session and runs the push sequence, updating
// the session status from the stream outcome.
func (h *Handler) streamImplement(ctx context.Context, req rpc.ImplementRequest) (<-chan agent.Event, error) {
	if req.SessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if req.BranchName == "" {
		return nil, errors.New("branch_name is required")
	}
	if req.GitHubToken == "" {
		return nil, errors.New("github_token is required")
	}

	sess, ok := h.store.Get(req.SessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	h.store.SetStatus(req.SessionID, session.StatusImplementing)

	in := h.service.Implement(ctx, agent.ImplementRequest{
		Solution:      sess.Solution,
		RepoURL:       sess.RepoURL,
		BranchName:    req.BranchName,
		GitHubToken:   req.GitHubToken,
		CommitMessage: req.CommitMessage,
	})

	out := make(chan agent.Event, 16)
	go func() {
		defer close(out)
		success := false
		for ev := range in {
			if ev.Type == agent.EventResult {
				success = true
			}
			out <- ev
		}
		if success {
			h.store.SetStatus(req.SessionID, session.StatusCompleted)
		} else {
			h.store.SetStatus(req.SessionID, session.StatusFailed)
		}
	}()
	return out, nil
}

// HandleAnalyze handles POST /agent/analyze with an NDJSON event stream.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req rpc.AnalyzeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	events, err := h.streamAnalyze(r.Context(), req)
	if err != nil {
		h.metrics.RecordTransportError("ndjson", "bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.streamEvents(w, events)
}

// HandleImplement handles POST /agent/implement with an NDJSON event stream.
func (h *Handler) HandleImplement(w http.ResponseWriter, r *http.Request) {
	var req rpc.ImplementRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	events, err := h.streamImplement(r.Context(), req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ErrSessionNotFound) {
			code = http.StatusNotFound
		}
		h.metrics.RecordTransportError("ndjson", "bad_request")
		http.Error(w, err.Error(), code)
		return
	}
	h.streamEvents(w, events)
}

// HandleSession handles GET /agent/sessions?id= with session metadata.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	sess, ok := h.store.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	summary := ""
	if sess.Solution != nil {
		summary = sess.Solution.Summary
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpc.SessionResponse{
		SessionID:       sess.ID,
		RepoURL:         sess.RepoURL,
		IssueNumber:     sess.IssueNumber,
		IssueTitle:      sess.IssueTitle,
		CreatedAt:       sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:       sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Status:          string(sess.Status),
		SolutionSummary: summary,
	})
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		h.metrics.RecordTransportError("ndjson", "method_not_allowed")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.metrics.RecordTransportError("ndjson", "decode")
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// streamEvents writes each event as one NDJSON line, flushing per event so
// clients observe progress in real time.
func (h *Handler) streamEvents(w http.ResponseWriter, events <-chan agent.Event) {
	h.metrics.IncActiveStreams("ndjson")
	defer h.metrics.DecActiveStreams("ndjson")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	for ev := range events {
		if err := json.NewEncoder(writer).Encode(ev); err != nil {
			h.metrics.RecordTransportError("ndjson", "encode")
			break
		}
		writer.Flush()
		flusher.Flush()
	}

	// The producing goroutines must never block on an abandoned stream.
	for range events {
	}
}
