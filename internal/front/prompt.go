package front

import (
	"encoding/json"
	"net/http"

	"github.com/nexushub/toolhub/internal/convo"
)

type promptRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	System    string `json:"system"`
	MaxTokens int    `json:"max_tokens"`
}

type promptResponse struct {
	Result string `json:"result"`
}

// handlePrompt is the blocking, session-less prompt endpoint: build an
// ephemeral Conversation, register the hub's tools on it, and run the turn
// to completion. Mirrors server.py's prompt_handler.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
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

	conv := s.conversationFor(req.Model, req.System, req.MaxTokens)
	s.hub.RegisterToolsOn(r.Context(), conv, "")

	result, err := conv.RunUntilDone(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, promptResponse{Result: result})
}

// conversationFor builds an ephemeral Conversation, applying per-request
// overrides over the server's configured defaults.
func (s *Server) conversationFor(model, system string, maxTokens int) *convo.Conversation {
	if model == "" {
		model = s.model
	}
	if system == "" {
		system = s.system
	}
	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}
	return convo.New(convo.Config{
		Provider:  s.provider,
		Model:     model,
		System:    system,
		MaxTokens: maxTokens,
	})
}
