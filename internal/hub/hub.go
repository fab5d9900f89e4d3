// Package hub implements the dispatch fabric: the single logical owner of
// worker registration, tool routing, and in-flight tool-call state. It is
// the Go translation of the Python prototype's Hub class (hub.py),
// generalized to a mutex-guarded struct in the style of
// internal/edge.Manager, with gorilla/websocket replacing the
// websockets/aiohttp transport.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexushub/toolhub/internal/convo"
	"github.com/nexushub/toolhub/internal/toolschema"
)

// DispatchTimeout is the hard deadline on a single tool call, matching
// hub.py's `asyncio.wait_for(fut, timeout=120)`.
const DispatchTimeout = 120 * time.Second

// Sender delivers a single outbound frame to a connected worker. A
// websocket connection's write path is wrapped behind this so the Hub's
// core logic never touches gorilla/websocket directly.
type Sender func(frame WorkerFrame) error

// errNoWorker is returned as dispatch content (not a Go error, per
// the provider/tool-result contract) when no worker has registered the
// requested tool.
const errNoWorker = "Error: no worker registered for tool '%s'"

// errWorkerDisconnected mirrors hub.py's disconnected-worker dispatch
// content.
const errWorkerDisconnected = "Error: worker for tool '%s' is disconnected"

// errTimeout mirrors hub.py's timeout dispatch content.
const errTimeout = "Error: tool '%s' timed out after 120s"

// Metrics tracks hub-wide counters, generalized from internal/edge.Metrics.
// They are read through Hub.Metrics; they are not registered with any
// Prometheus registry, so internal/front's /metrics route does not report
// them.
type Metrics struct {
	ConnectedWorkers   int
	TotalDispatches    int64
	ActiveDispatches   int64
	TimedOutDispatches int64
}

// WorkerInfo is the per-worker status returned by WorkersInfo, mirroring
// hub.py's get_workers_info.
type WorkerInfo struct {
	WorkerID string   `json:"worker_id"`
	Tools    []string `json:"tools"`
	Status   string   `json:"status"`
	Sessions []string `json:"sessions"`
}

// Hub owns all dispatch-fabric state behind a single mutex, matching §5's
// requirement that hub state have one logical owner even though Go
// doesn't need an event loop to get there.
type Hub struct {
	logger *slog.Logger

	mu              sync.Mutex
	workerSenders   map[string]Sender
	toolToWorkers   map[string][]string
	toolRRIndex     map[string]int
	toolSchemas     []convo.ToolSchema
	sessionAffinity map[string]string
	pending         map[string]chan string
	callToWorker    map[string]string
	busyWorkers     map[string]bool

	metrics Metrics
}

// New constructs an empty Hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:          logger.With("component", "hub.Hub"),
		workerSenders:   make(map[string]Sender),
		toolToWorkers:   make(map[string][]string),
		toolRRIndex:     make(map[string]int),
		sessionAffinity: make(map[string]string),
		pending:         make(map[string]chan string),
		callToWorker:    make(map[string]string),
		busyWorkers:     make(map[string]bool),
	}
}

// WorkerCount returns the number of currently registered (connected)
// workers.
func (h *Hub) WorkerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workerSenders)
}

// Metrics returns a snapshot of the hub's counters.
func (h *Hub) Metrics() Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.metrics
	m.ConnectedWorkers = len(h.workerSenders)
	return m
}

// WorkersInfo returns per-worker status, mirroring hub.py's
// get_workers_info.
func (h *Hub) WorkersInfo() []WorkerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	byWorker := make(map[string][]string)
	for tool, workers := range h.toolToWorkers {
		for _, wid := range workers {
			if _, ok := h.workerSenders[wid]; ok {
				byWorker[wid] = append(byWorker[wid], tool)
			}
		}
	}

	affinityReverse := make(map[string][]string)
	for sid, wid := range h.sessionAffinity {
		affinityReverse[wid] = append(affinityReverse[wid], sid)
	}

	out := make([]WorkerInfo, 0, len(byWorker))
	for wid, tools := range byWorker {
		status := "idle"
		if h.busyWorkers[wid] {
			status = "busy"
		}
		out = append(out, WorkerInfo{
			WorkerID: wid,
			Tools:    tools,
			Status:   status,
			Sessions: affinityReverse[wid],
		})
	}
	return out
}

// RegisterWorker records a newly connected worker's send path and its
// advertised tool schemas. A schema whose input_schema conflicts
// (structurally) with an already-registered schema of the same name is
// rejected for that worker rather than silently accepted (Open Question 1
// resolution) — the worker is not added to that tool's routing pool, and a
// warning is logged.
func (h *Hub) RegisterWorker(workerID string, send Sender, schemas []convo.ToolSchema) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.workerSenders[workerID] = send

	for _, schema := range schemas {
		name := schema.Name
		if err := toolschema.Validate(name, schema.InputSchema); err != nil {
			h.logger.Warn("rejecting invalid tool schema", "tool", name, "worker_id", workerID, "error", err)
			continue
		}

		workers := h.toolToWorkers[name]
		alreadyPresent := false
		for _, w := range workers {
			if w == workerID {
				alreadyPresent = true
				break
			}
		}

		existing, isFirstSeen := h.schemaFor(name)
		if isFirstSeen {
			h.toolSchemas = append(h.toolSchemas, schema)
			h.toolRRIndex[name] = 0
		} else if !schemasEqual(existing.InputSchema, schema.InputSchema) {
			h.logger.Warn("rejecting mismatched tool schema",
				"tool", name, "worker_id", workerID)
			continue
		}

		if !alreadyPresent {
			h.toolToWorkers[name] = append(workers, workerID)
		}
	}

	h.logger.Info("worker registered", "worker_id", workerID, "tool_count", len(schemas))
}

func (h *Hub) schemaFor(name string) (convo.ToolSchema, bool) {
	for _, s := range h.toolSchemas {
		if s.Name == name {
			return s, false
		}
	}
	return convo.ToolSchema{}, true
}

func schemasEqual(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// HandleToolResult resolves a pending dispatch by call id, fulfilling its
// waiting caller with the worker's reported content. Mirrors hub.py's
// tool_result branch of _process_message.
func (h *Hub) HandleToolResult(callID, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	workerID, ok := h.callToWorker[callID]
	if ok {
		delete(h.callToWorker, callID)
		if !h.workerHasOtherCalls(workerID) {
			delete(h.busyWorkers, workerID)
		}
	}

	if ch, ok := h.pending[callID]; ok {
		delete(h.pending, callID)
		select {
		case ch <- content:
		default:
		}
		close(ch)
	}
}

func (h *Hub) workerHasOtherCalls(workerID string) bool {
	for _, w := range h.callToWorker {
		if w == workerID {
			return true
		}
	}
	return false
}

// RemoveWorker tears down all state for a disconnected worker: its send
// path, its membership in every tool's routing pool (deleting pool entries
// that become empty), stale session affinities pointing at it, its busy
// flag, and any call-to-worker entries. Pending futures for calls still in
// flight on this worker are intentionally left untouched — they resolve on
// their own 120s timeout path, matching hub.py's _cleanup_worker, which
// never recalls them either.
func (h *Hub) RemoveWorker(workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.workerSenders, workerID)

	var emptied []string
	for name, workers := range h.toolToWorkers {
		filtered := workers[:0]
		for _, w := range workers {
			if w != workerID {
				filtered = append(filtered, w)
			}
		}
		h.toolToWorkers[name] = filtered
		if len(filtered) == 0 {
			emptied = append(emptied, name)
		}
	}
	for _, name := range emptied {
		delete(h.toolToWorkers, name)
		delete(h.toolRRIndex, name)
		h.toolSchemas = removeSchema(h.toolSchemas, name)
	}

	for sid, wid := range h.sessionAffinity {
		if wid == workerID {
			delete(h.sessionAffinity, sid)
		}
	}

	delete(h.busyWorkers, workerID)
	for cid, wid := range h.callToWorker {
		if wid == workerID {
			delete(h.callToWorker, cid)
		}
	}

	h.logger.Info("worker disconnected", "worker_id", workerID)
}

func removeSchema(schemas []convo.ToolSchema, name string) []convo.ToolSchema {
	out := schemas[:0]
	for _, s := range schemas {
		if s.Name != name {
			out = append(out, s)
		}
	}
	return out
}

// pickWorker selects a worker for tool_name, preferring the session's
// existing affinity when alive, else round-robin over the alive subset —
// sticky but not exclusive, per §5. Returns "" if no worker can serve the
// tool. Caller must hold h.mu.
func (h *Hub) pickWorker(toolName, sessionID string) string {
	workers := h.toolToWorkers[toolName]
	if len(workers) == 0 {
		return ""
	}

	if sessionID != "" {
		if wid, ok := h.sessionAffinity[sessionID]; ok {
			if _, alive := h.workerSenders[wid]; alive && containsWorker(workers, wid) {
				return wid
			}
		}
	}

	var alive []string
	for _, w := range workers {
		if _, ok := h.workerSenders[w]; ok {
			alive = append(alive, w)
		}
	}
	if len(alive) == 0 {
		return ""
	}

	idx := h.toolRRIndex[toolName] % len(alive)
	h.toolRRIndex[toolName] = idx + 1
	chosen := alive[idx]

	if sessionID != "" {
		h.sessionAffinity[sessionID] = chosen
	}
	return chosen
}

func containsWorker(workers []string, id string) bool {
	for _, w := range workers {
		if w == id {
			return true
		}
	}
	return false
}

// Dispatch routes a single tool call to a worker and blocks until the
// result arrives, the call times out after DispatchTimeout, or ctx is
// cancelled. The returned string is always the tool-result content (which
// may itself be an "Error: ..." string per the provider contract) — a
// non-nil error is reserved for caller-side cancellation.
func (h *Hub) Dispatch(ctx context.Context, toolName string, input json.RawMessage, sessionID string) (string, error) {
	h.mu.Lock()
	workerID := h.pickWorker(toolName, sessionID)
	if workerID == "" {
		h.mu.Unlock()
		return fmt.Sprintf(errNoWorker, toolName), nil
	}

	send, ok := h.workerSenders[workerID]
	if !ok {
		h.mu.Unlock()
		return fmt.Sprintf(errWorkerDisconnected, toolName), nil
	}

	callID := uuid.New().String()
	resultCh := make(chan string, 1)
	h.pending[callID] = resultCh
	h.callToWorker[callID] = workerID
	h.busyWorkers[workerID] = true
	h.metrics.TotalDispatches++
	h.metrics.ActiveDispatches++
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.metrics.ActiveDispatches--
		h.mu.Unlock()
	}()

	if err := send(WorkerFrame{Type: FrameToolCall, CallID: callID, Name: toolName, Input: input}); err != nil {
		h.failDispatch(callID, workerID)
		return fmt.Sprintf(errWorkerDisconnected, toolName), nil
	}

	timer := time.NewTimer(DispatchTimeout)
	defer timer.Stop()

	select {
	case content := <-resultCh:
		return content, nil
	case <-timer.C:
		h.failDispatch(callID, workerID)
		h.mu.Lock()
		h.metrics.TimedOutDispatches++
		h.mu.Unlock()
		return fmt.Sprintf(errTimeout, toolName), nil
	case <-ctx.Done():
		h.failDispatch(callID, workerID)
		return "", ctx.Err()
	}
}

// failDispatch performs the timeout/failure cleanup hub.py does inline
// inside the except asyncio.TimeoutError branch of _dispatch.
func (h *Hub) failDispatch(callID, workerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, callID)
	delete(h.callToWorker, callID)
	if !h.workerHasOtherCalls(workerID) {
		delete(h.busyWorkers, workerID)
	}
}

// RegisterToolsOn installs every tool this hub knows about onto conv, with
// handlers that dispatch through this hub scoped to sessionID (empty
// string for an ephemeral, session-less conversation). Mirrors hub.py's
// register_tools_on. The ctx argument is unused beyond this call: each
// installed handler dispatches using the ctx it is invoked with (the
// per-turn context threaded through Conversation.HandleToolUse), so
// cancelling one turn aborts its own awaiting dispatch without affecting
// any other turn on the same connection.
func (h *Hub) RegisterToolsOn(ctx context.Context, conv *convo.Conversation, sessionID string) {
	h.mu.Lock()
	schemas := append([]convo.ToolSchema(nil), h.toolSchemas...)
	h.mu.Unlock()

	for _, schema := range schemas {
		name := schema.Name
		conv.RegisterTool(schema, func(callCtx context.Context, input json.RawMessage) (string, error) {
			return h.Dispatch(callCtx, name, input, sessionID)
		})
	}
}
