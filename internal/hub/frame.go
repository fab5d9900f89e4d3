package hub

import "encoding/json"

// FrameType discriminates the small JSON protocol spoken between the hub
// and a worker over the wire, matching hub.py's `{"type": ...}` messages.
type FrameType string

const (
	// FrameRegister is sent once by a worker on connect, advertising its
	// worker id and tool schemas.
	FrameRegister FrameType = "register"
	// FrameToolCall is sent by the hub to dispatch a tool invocation.
	FrameToolCall FrameType = "tool_call"
	// FrameToolResult is sent by a worker in reply to a tool_call.
	FrameToolResult FrameType = "tool_result"
)

// WorkerFrame is the wire shape exchanged with a worker connection. Only
// the fields relevant to Type are populated.
type WorkerFrame struct {
	Type     FrameType          `json:"type"`
	WorkerID string             `json:"worker_id,omitempty"`
	Tools    []json.RawMessage  `json:"tools,omitempty"`
	CallID   string             `json:"call_id,omitempty"`
	Name     string             `json:"name,omitempty"`
	Input    json.RawMessage    `json:"input,omitempty"`
	Content  string             `json:"content,omitempty"`
}
