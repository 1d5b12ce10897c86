package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	agentsvc "github.com/Jacky040124/openquest/internal/agent"
	"github.com/Jacky040124/openquest/internal/session"
)

// stubService plays back a fixed event script for any request.
type stubService struct {
	analyzeEvents   func(req agentsvc.AnalyzeRequest) []agentsvc.Event
	implementEvents []agentsvc.Event

	implementReqs []agentsvc.ImplementRequest
}

func (s *stubService) Analyze(ctx context.Context, req agentsvc.AnalyzeRequest) <-chan agentsvc.Event {
	return playback(s.analyzeEvents(req))
}

func (s *stubService) Implement(ctx context.Context, req agentsvc.ImplementRequest) <-chan agentsvc.Event {
	s.implementReqs = append(s.implementReqs, req)
	return playback(s.implementEvents)
}

func playback(events []agentsvc.Event) <-chan agentsvc.Event {
	out := make(chan agentsvc.Event, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out
}

func decodeLines(t *testing.T, body string) []agentsvc.Event {
	t.Helper()
	var events []agentsvc.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var ev agentsvc.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestHandleAnalyzeStreamsAndPersistsSession(t *testing.T) {
	svc := &stubService{
		analyzeEvents: func(req agentsvc.AnalyzeRequest) []agentsvc.Event {
			return []agentsvc.Event{
				agentsvc.StatusEvent(agentsvc.StepCloning, "cloning"),
				agentsvc.SolutionEvent(req.SessionID, &agentsvc.Solution{Summary: "found it"}),
				agentsvc.DoneEvent(),
			}
		},
	}
	store := session.NewStore(time.Hour)
	h := NewHandler(svc, store, nil)

	req := httptest.NewRequest("POST", "/agent/analyze",
		strings.NewReader(`{"repo_url":"https://github.com/octo/demo","issue_number":3,"issue_title":"t","issue_body":"b"}`))
	rec := httptest.NewRecorder()
	h.HandleAnalyze(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	events := decodeLines(t, rec.Body.String())
	require.Len(t, events, 3)
	require.Equal(t, agentsvc.EventSolution, events[1].Type)
	require.NotEmpty(t, events[1].SessionID)
	require.Equal(t, agentsvc.EventDone, events[2].Type)

	stored, ok := store.Get(events[1].SessionID)
	require.True(t, ok)
	require.Equal(t, "found it", stored.Solution.Summary)
	require.Equal(t, "https://github.com/octo/demo", stored.RepoURL)
}

func TestHandleAnalyzeRejectsBadRequest(t *testing.T) {
	h := NewHandler(&stubService{}, session.NewStore(time.Hour), nil)

	req := httptest.NewRequest("POST", "/agent/analyze", strings.NewReader(`{"issue_number":3}`))
	rec := httptest.NewRecorder()
	h.HandleAnalyze(rec, req)
	require.Equal(t, 400, rec.Code)
	require.Contains(t, rec.Body.String(), "repo_url")

	req = httptest.NewRequest("GET", "/agent/analyze", nil)
	rec = httptest.NewRecorder()
	h.HandleAnalyze(rec, req)
	require.Equal(t, 405, rec.Code)
}

func TestHandleImplementUnknownSession(t *testing.T) {
	h := NewHandler(&stubService{}, session.NewStore(time.Hour), nil)

	req := httptest.NewRequest("POST", "/agent/implement",
		strings.NewReader(`{"session_id":"ghost","branch_name":"b","github_token":"tok"}`))
	rec := httptest.NewRecorder()
	h.HandleImplement(rec, req)
	require.Equal(t, 404, rec.Code)
}

func TestHandleImplementUpdatesSessionStatus(t *testing.T) {
	svc := &stubService{
		analyzeEvents: func(req agentsvc.AnalyzeRequest) []agentsvc.Event { return nil },
		implementEvents: []agentsvc.Event{
			agentsvc.StatusEvent(agentsvc.StepPushing, "pushing"),
			agentsvc.ResultEvent("b", "burl", "prurl", ""),
			agentsvc.DoneEvent(),
		},
	}
	store := session.NewStore(time.Hour)
	id := session.NewID()
	store.Put(id, "https://github.com/octo/demo", 3, "t", &agentsvc.Solution{Summary: "s"})

	h := NewHandler(svc, store, nil)
	req := httptest.NewRequest("POST", "/agent/implement",
		strings.NewReader(`{"session_id":"`+id+`","branch_name":"b","github_token":"tok","commit_message":"m"}`))
	rec := httptest.NewRecorder()
	h.HandleImplement(rec, req)

	require.Equal(t, 200, rec.Code)
	events := decodeLines(t, rec.Body.String())
	require.Equal(t, agentsvc.EventResult, events[1].Type)

	require.Len(t, svc.implementReqs, 1)
	require.Equal(t, "https://github.com/octo/demo", svc.implementReqs[0].RepoURL)
	require.Equal(t, "s", svc.implementReqs[0].Solution.Summary)

	stored, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, session.StatusCompleted, stored.Status)
}

func TestHandleImplementFailureMarksSessionFailed(t *testing.T) {
	svc := &stubService{
		analyzeEvents: func(req agentsvc.AnalyzeRequest) []agentsvc.Event { return nil },
		implementEvents: []agentsvc.Event{
			agentsvc.ErrorEvent("push rejected"),
			agentsvc.DoneEvent(),
		},
	}
	store := session.NewStore(time.Hour)
	id := session.NewID()
	store.Put(id, "r", 1, "t", &agentsvc.Solution{})

	h := NewHandler(svc, store, nil)
	req := httptest.NewRequest("POST", "/agent/implement",
		strings.NewReader(`{"session_id":"`+id+`","branch_name":"b","github_token":"tok"}`))
	rec := httptest.NewRecorder()
	h.HandleImplement(rec, req)

	require.Equal(t, 200, rec.Code)
	stored, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, session.StatusFailed, stored.Status)
}

func TestHandleSession(t *testing.T) {
	store := session.NewStore(time.Hour)
	id := session.NewID()
	store.Put(id, "https://github.com/octo/demo", 3, "flaky test", &agentsvc.Solution{Summary: "sum"})

	h := NewHandler(&stubService{}, store, nil)
	req := httptest.NewRequest("GET", "/agent/sessions?id="+id, nil)
	rec := httptest.NewRecorder()
	h.HandleSession(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp["session_id"])
	require.Equal(t, "sum", resp["solution_summary"])
	require.Equal(t, "pending", resp["status"])

	rec = httptest.NewRecorder()
	h.HandleSession(rec, httptest.NewRequest("GET", "/agent/sessions?id=ghost", nil))
	require.Equal(t, 404, rec.Code)
}
