package front

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nexushub/toolhub/internal/agentrunner"
	"github.com/nexushub/toolhub/internal/convo"
)

// inFrame is a client->server chat socket frame.
type inFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// outFrame is a server->client chat socket frame, covering both
// tool_use/done turn events and terminal errors.
type outFrame struct {
	Type    string          `json:"type"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content string          `json:"content,omitempty"`
	Message string          `json:"message,omitempty"`
}

// handleWSChat is the ephemeral, session-less streaming chat endpoint.
// Mirrors server.py's ws_chat_handler, restructured around
// agentrunner.Connection's cancel-and-replace semantics instead of a
// single sequential coroutine loop.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conv := s.conversationFor(q.Get("model"), q.Get("system"), 0)
	s.hub.RegisterToolsOn(r.Context(), conv, "")

	s.runChatSocket(w, r, conv, nil)
}

// failUpgradedSocket upgrades the connection just far enough to emit a
// single {"type":"error"} frame before closing, per spec.md §7's "on WS,
// emit {type:"error"} and close" contract for request-time failures that
// happen after the client has already asked for a websocket (missing
// session, load failure) rather than a plain HTTP error.
func (s *Server) failUpgradedSocket(w http.ResponseWriter, r *http.Request, message string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("chat websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	_ = ws.WriteJSON(outFrame{Type: "error", Message: message})
}

// runChatSocket upgrades the connection and drives the shared streaming
// chat loop. If save is non-nil, it is called after every completed turn
// with the conversation's current transcript (the session-scoped routes
// use this to persist to internal/session.Store; the ephemeral route
// passes nil). save also fires on cancellation, per spec.md §4.D's
// requirement that a cancelled turn's partial transcript still persist.
func (s *Server) runChatSocket(w http.ResponseWriter, r *http.Request, conv *convo.Conversation, save func([]convo.Message) error) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("chat websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var writeMu sync.Mutex
	send := func(frame outFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.WriteJSON(frame)
	}

	conn := agentrunner.NewConnection(conv, s.logger)
	persist := func() {
		if save == nil {
			return
		}
		if err := save(conv.Messages()); err != nil {
			s.logger.Warn("failed to save session after turn", "error", err)
		}
	}

	// SubmitMessage runs each turn in its own goroutine and the read loop
	// never blocks on it, so a "cancel" frame sent while a turn is in
	// flight is read and acted on immediately instead of queueing behind
	// the turn it's meant to interrupt. wg only serves to let the socket
	// stay open until every outstanding turn has reported back.
	var wg sync.WaitGroup
	for {
		var frame inFrame
		if err := ws.ReadJSON(&frame); err != nil {
			break
		}

		switch frame.Type {
		case "cancel":
			conn.Cancel()
			continue
		case "message", "":
			// fall through to dispatch below
		default:
			send(outFrame{Type: "error", Message: "unknown frame type"})
			continue
		}

		if s.hub.WorkerCount() == 0 {
			send(outFrame{Type: "error", Message: "no workers connected"})
			continue
		}

		wg.Add(1)
		conn.SubmitMessage(r.Context(), frame.Text, func(e agentrunner.Event) {
			switch e.Type {
			case agentrunner.EventToolUse:
				send(outFrame{Type: "tool_use", Name: e.ToolName, Input: e.ToolInput})
			case agentrunner.EventCancelled:
				send(outFrame{Type: "cancelled"})
				persist()
			case agentrunner.EventDone:
				send(outFrame{Type: "done", Content: e.Content})
				persist()
			}
		}, func(err error) {
			defer wg.Done()
			if err != nil && !errors.Is(err, context.Canceled) {
				send(outFrame{Type: "error", Message: err.Error()})
			}
		})
	}
	wg.Wait()
}
