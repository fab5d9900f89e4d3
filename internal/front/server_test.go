package front

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexushub/toolhub/internal/convo"
	"github.com/nexushub/toolhub/internal/hub"
	"github.com/nexushub/toolhub/internal/session"
)

type stubProvider struct {
	text string
}

func (p stubProvider) Create(ctx context.Context, req convo.CompletionRequest) (*convo.CompletionResponse, error) {
	return &convo.CompletionResponse{Content: []convo.Block{convo.TextBlock(p.text)}, StopReason: convo.StopEndTurn}, nil
}

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	h := hub.New(nil)
	store, err := session.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	s := New(Config{
		Hub:       h,
		Sessions:  store,
		Provider:  stubProvider{text: "ok"},
		Model:     "test-model",
		MaxTokens: 100,
	})
	return s, h
}

func TestHealthzReflectsWorkerCount(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503 with no workers", rec.Code)
	}
}

func TestPromptRequiresWorkersAndPrompt(t *testing.T) {
	s, h := newTestServer(t)
	mux := s.Mux()

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"prompt":"hi"}`)
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prompt", body))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503 with no workers", rec.Code)
	}

	h.RegisterWorker("w1", func(hub.WorkerFrame) error { return nil }, nil)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prompt", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400 for missing prompt", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prompt", bytes.NewBufferString(`{"prompt":"hi"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	var resp promptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != "ok" {
		t.Fatalf("got %q", resp.Result)
	}
}

func TestSessionCRUD(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, want 201", rec.Code)
	}
	var created createSessionResponse
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.SessionID == "" {
		t.Fatalf("expected session id")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+created.SessionID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rec.Code)
	}
}

func TestSessionClearRequiresExistingSession(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.Mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/missing/clear", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}
