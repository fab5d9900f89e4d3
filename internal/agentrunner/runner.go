// Package agentrunner drives the agent loop against a convo.Conversation,
// in both a blocking one-shot mode and a cancellable streaming mode for a
// single long-lived client connection. Grounded on the Python prototype's
// server.py: prompt_handler (blocking) and ws_chat_handler/
// session_chat_handler (the streaming per-socket loop with tool_use events
// emitted as they happen).
package agentrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexushub/toolhub/internal/convo"
)

// EventType discriminates the frames emitted by a streaming turn.
type EventType string

const (
	// EventToolUse is emitted once per tool_use block the assistant
	// requests, before it has been executed.
	EventToolUse EventType = "tool_use"
	// EventDone is emitted once, at the end of the turn, carrying the
	// joined text of the terminal response.
	EventDone EventType = "done"
	// EventCancelled is emitted instead of EventDone when the turn stops
	// because its context was cancelled (an explicit {"type":"cancel"}
	// frame, or a later SubmitMessage replacing it), as opposed to a real
	// provider or dispatch failure.
	EventCancelled EventType = "cancelled"
)

// Event is a single streaming-turn notification.
type Event struct {
	Type     EventType
	ToolName string
	ToolInput json.RawMessage
	Content  string
}

// RunUntilDone is the blocking one-shot form: build an ephemeral or loaded
// Conversation, drive it to completion, and return the joined final text.
// This is a thin pass-through to convo.Conversation.RunUntilDone, kept as
// its own entry point so callers needing only the blocking contract don't
// need to reach into internal/convo directly.
func RunUntilDone(ctx context.Context, conv *convo.Conversation, userText string) (string, error) {
	return conv.RunUntilDone(ctx, userText)
}

// Connection drives the streaming agent loop for one long-lived client
// socket. At most one turn runs at a time: submitting a new message
// cancels whatever turn is currently in flight before starting the new
// one (the Python prototype achieves the same one-at-a-time property by
// simply awaiting each turn sequentially inside a single coroutine; Go's
// concurrent request handling needs an explicit cancel-and-replace to get
// the same guarantee without blocking the socket's read loop).
type Connection struct {
	conv   *convo.Conversation
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewConnection wraps conv for streaming use.
func NewConnection(conv *convo.Conversation, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{conv: conv, logger: logger.With("component", "agentrunner.Connection")}
}

// Cancel aborts the in-flight turn, if any, without starting a new one.
// Matches the explicit {"type":"cancel"} frame spec.md's front-end
// surface accepts.
func (c *Connection) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// SubmitMessage cancels any turn currently in flight on this connection and
// starts a new one for userText, emitting an Event for each tool_use block
// as the assistant requests it and a final EventDone carrying the
// finished turn's joined text. emit and onDone are called from a new
// goroutine; callers must make them safe to call from any goroutine (the
// typical case is to forward them over a channel back to the connection's
// single writer).
//
// Cancelling a turn aborts its own provider call and any hub dispatch it
// is still awaiting (the handler registered by Hub.RegisterToolsOn is
// invoked with this same ctx). It never touches a different turn's
// dispatches, including one already superseded by a later SubmitMessage.
func (c *Connection) SubmitMessage(parent context.Context, userText string, emit func(Event), onDone func(error)) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			// Any Cancel or later SubmitMessage cancels this turn's ctx
			// before it replaces c.cancel, so an uncancelled ctx means
			// c.cancel still belongs to this turn.
			if ctx.Err() == nil {
				c.cancel = nil
			}
			c.mu.Unlock()
			cancel()
		}()

		err := c.runTurn(ctx, userText, emit)
		onDone(err)
	}()
}

func (c *Connection) runTurn(ctx context.Context, userText string, emit func(Event)) error {
	resp, err := c.conv.Send(ctx, userText)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			emit(Event{Type: EventCancelled})
		}
		return fmt.Errorf("agentrunner: send: %w", err)
	}

	for resp.StopReason == convo.StopToolUse {
		for _, block := range resp.Content {
			if block.Type == convo.BlockToolUse {
				emit(Event{Type: EventToolUse, ToolName: block.ToolUseName, ToolInput: block.ToolUseInput})
			}
		}

		// Cancelling aborts the provider call and any tool dispatch the
		// handler is still awaiting: HandleToolUse's handlers receive
		// this same ctx, so a cancelled hub dispatch simply resolves its
		// tool_result to an error string instead of blocking.
		c.conv.HandleToolUse(ctx, resp)
		if ctx.Err() != nil {
			emit(Event{Type: EventCancelled})
			return ctx.Err()
		}

		resp, err = c.conv.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				emit(Event{Type: EventCancelled})
			}
			return fmt.Errorf("agentrunner: step: %w", err)
		}
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == convo.BlockText {
			if text != "" {
				text += "\n"
			}
			text += block.Text
		}
	}
	emit(Event{Type: EventDone, Content: text})
	return nil
}
