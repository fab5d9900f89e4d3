package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexushub/toolhub/internal/convo"
)

// upgrader mirrors internal/gateway's wsControlPlane upgrader: generous
// buffers, origin checking left to the caller's reverse proxy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	workerWriteWait = 10 * time.Second
	workerPongWait  = 45 * time.Second
	workerPingEvery = 15 * time.Second
)

// registerPayload is the JSON body of a register frame's tool list entries.
type registerPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ServeWorkerWS upgrades an incoming HTTP request to a worker connection:
// it expects the first frame to be a register frame, then dispatches
// tool_call frames and reads tool_result frames for the lifetime of the
// socket. Mirrors hub.py's _handle_worker.
func (h *Hub) ServeWorkerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("worker websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(workerPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(workerPongWait))
	})

	var writeMu sync.Mutex
	send := func(frame WorkerFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(workerWriteWait))
		return conn.WriteJSON(frame)
	}

	var first WorkerFrame
	if err := conn.ReadJSON(&first); err != nil {
		h.logger.Warn("worker handshake failed", "error", err)
		return
	}
	if first.Type != FrameRegister {
		h.logger.Warn("worker handshake: expected register frame", "got", first.Type)
		return
	}

	workerID := first.WorkerID
	if workerID == "" {
		// Matches the Python prototype's str(uuid.uuid4())[:8].
		workerID = uuid.New().String()[:8]
	}
	schemas := parseToolSchemas(first.Tools)
	h.RegisterWorker(workerID, send, schemas)
	defer h.RemoveWorker(workerID)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.pingLoop(conn, &writeMu, stopPing)

	for {
		var frame WorkerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case FrameToolResult:
			h.HandleToolResult(frame.CallID, frame.Content)
		default:
			h.logger.Warn("unexpected frame from worker", "worker_id", workerID, "type", frame.Type)
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, stop <-chan struct{}) {
	ticker := time.NewTicker(workerPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(workerWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func parseToolSchemas(raw []json.RawMessage) []convo.ToolSchema {
	out := make([]convo.ToolSchema, 0, len(raw))
	for _, r := range raw {
		var p registerPayload
		if err := json.Unmarshal(r, &p); err != nil {
			continue
		}
		out = append(out, convo.ToolSchema{
			Name:        p.Name,
			Description: p.Description,
			InputSchema: p.InputSchema,
		})
	}
	return out
}
