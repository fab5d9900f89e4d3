package front

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nexushub/toolhub/internal/convo"
	"github.com/nexushub/toolhub/internal/session"
)

type createSessionRequest struct {
	Model     string `json:"model"`
	System    string `json:"system"`
	MaxTokens int    `json:"max_tokens"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// handleSessionsCollection serves /sessions: POST creates, GET lists, and
// DELETE removes every session. Mirrors server.py's create_session,
// list_sessions, and delete_all_sessions.
func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createSessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		model, system, maxTokens := s.defaultsFor(req.Model, req.System, req.MaxTokens)

		id, err := s.sessions.Create(model, system, maxTokens)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})

	case http.MethodGet:
		list, err := s.sessions.ListAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodDelete:
		if err := s.sessions.DeleteAll(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) defaultsFor(model, system string, maxTokens int) (string, string, int) {
	if model == "" {
		model = s.model
	}
	if system == "" {
		system = s.system
	}
	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}
	return model, system, maxTokens
}

// handleSessionsItem dispatches the /sessions/{id}[/action] routes:
// GET/DELETE on the bare id, plus /prompt, /chat, /clear sub-routes.
// Mirrors server.py's get_session, delete_session,
// session_prompt_handler, session_chat_handler, and the clear/
// clear-all-history routes the distillation names in spec.md §6.
func (s *Server) handleSessionsItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if rest == "clear-all-history" && r.Method == http.MethodPost {
		list, err := s.sessions.ListAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, meta := range list {
			if err := s.sessions.ClearHistory(meta.SessionID); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	var action string
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleSessionItemRoot(w, r, id)
	case "prompt":
		s.handleSessionPrompt(w, r, id)
	case "chat":
		s.handleSessionChat(w, r, id)
	case "clear":
		s.handleSessionClear(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionItemRoot(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		meta, err := s.sessions.Get(id)
		if err == session.ErrNotFound {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, meta)

	case http.MethodDelete:
		err := s.sessions.Delete(id)
		if err == session.ErrNotFound {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionPrompt runs a single blocking turn against a persisted
// session, loading it before and saving it after. Mirrors server.py's
// session_prompt_handler.
func (s *Server) handleSessionPrompt(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.sessions.Exists(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if s.hub.WorkerCount() == 0 {
		writeError(w, http.StatusServiceUnavailable, "no workers connected")
		return
	}

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	record, err := s.sessions.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conv := convo.New(convo.Config{Provider: s.provider, Model: record.Model, System: record.System, MaxTokens: record.MaxTokens})
	conv.SetMessages(record.Messages)
	s.hub.RegisterToolsOn(r.Context(), conv, id)

	result, err := conv.RunUntilDone(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.sessions.Save(id, conv.Messages()); err != nil {
		s.logger.Warn("failed to save session", "session_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, promptResponse{Result: result})
}

// handleSessionChat is the streaming counterpart of handleSessionPrompt,
// loading the session before the socket opens and saving it after every
// completed turn. Mirrors server.py's session_chat_handler. Failures here
// happen after the client has asked to upgrade, so per spec.md §7 they
// upgrade anyway and report the failure as a {type:"error"} frame rather
// than a plain HTTP error.
func (s *Server) handleSessionChat(w http.ResponseWriter, r *http.Request, id string) {
	if !s.sessions.Exists(id) {
		s.failUpgradedSocket(w, r, "session not found")
		return
	}

	record, err := s.sessions.Load(id)
	if err != nil {
		s.failUpgradedSocket(w, r, err.Error())
		return
	}

	conv := convo.New(convo.Config{Provider: s.provider, Model: record.Model, System: record.System, MaxTokens: record.MaxTokens})
	conv.SetMessages(record.Messages)
	s.hub.RegisterToolsOn(r.Context(), conv, id)

	s.runChatSocket(w, r, conv, func(messages []convo.Message) error {
		return s.sessions.Save(id, messages)
	})
}

// handleSessionClear truncates a session's transcript while keeping its
// header, matching spec.md §6's clear-history route.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := s.sessions.ClearHistory(id)
	if err == session.ErrNotFound {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
