// Command nexus-worker-example is a minimal reference worker: it connects
// to a nexus-hub over the worker websocket protocol, registers a couple of
// demonstration tools, and serves /healthz for internal/workerpool to
// probe. Concrete tool implementations are out of scope for the hub itself
// (they are external collaborators); this binary exists to demonstrate and
// exercise the wire protocol end to end. Grounded on
// _examples/original_source/worker.py's run_worker/run_health_server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type toolDef struct {
	schema  json.RawMessage
	handler func(input json.RawMessage) (string, error)
}

func main() {
	server := flag.String("server", "ws://localhost:8080/ws/worker", "hub websocket URL")
	healthPort := flag.Int("health-port", 8081, "port for the /healthz endpoint")
	id := flag.String("id", "", "worker id (default: random)")
	flag.Parse()

	logger := slog.Default()
	workerID := *id
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().UnixNano()%100000)
	}

	connected := make(chan bool, 1)
	go serveHealthz(*healthPort, connected, logger)

	tools := demoTools()
	runWorkerLoop(*server, workerID, tools, connected, logger)
}

// serveHealthz mirrors worker.py's run_health_server: 200 "ok" while
// registered with a hub, 503 "disconnected" otherwise.
func serveHealthz(port int, connected chan bool, logger *slog.Logger) {
	state := false
	go func() {
		for v := range connected {
			state = v
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if state {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("disconnected"))
	})
	logger.Info("health server listening", "port", port)
	if err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux); err != nil {
		logger.Error("health server stopped", "error", err)
	}
}

// runWorkerLoop reconnects with a 2s backoff, matching worker.py's
// except-and-retry loop around websockets.connect.
func runWorkerLoop(serverURL, workerID string, tools map[string]toolDef, connected chan bool, logger *slog.Logger) {
	for {
		if err := connectAndServe(serverURL, workerID, tools, connected, logger); err != nil {
			logger.Warn("connection lost, reconnecting", "error", err)
		}
		connected <- false
		time.Sleep(2 * time.Second)
	}
}

type registerFrame struct {
	Type     string            `json:"type"`
	WorkerID string            `json:"worker_id"`
	Tools    []json.RawMessage `json:"tools"`
}

type toolCallFrame struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	CallID string          `json:"call_id"`
}

type toolResultFrame struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	Content string `json:"content"`
}

func connectAndServe(serverURL, workerID string, tools map[string]toolDef, connected chan bool, logger *slog.Logger) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	schemas := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.schema)
	}
	if err := conn.WriteJSON(registerFrame{Type: "register", WorkerID: workerID, Tools: schemas}); err != nil {
		return err
	}
	connected <- true
	logger.Info("registered with hub", "worker_id", workerID, "tools", len(schemas), "server", serverURL)

	for {
		var frame toolCallFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Type != "tool_call" {
			continue
		}
		go handleCall(conn, frame, tools[frame.Name], logger)
	}
}

func handleCall(conn *websocket.Conn, frame toolCallFrame, tool toolDef, logger *slog.Logger) {
	var content string
	if tool.handler == nil {
		content = fmt.Sprintf("Error: unknown tool '%s'", frame.Name)
	} else {
		result, err := tool.handler(frame.Input)
		if err != nil {
			content = fmt.Sprintf("Error: %s", err)
		} else {
			content = result
		}
	}
	if err := conn.WriteJSON(toolResultFrame{Type: "tool_result", CallID: frame.CallID, Content: content}); err != nil {
		logger.Warn("failed to send tool result", "call_id", frame.CallID, "error", err)
	}
}

// demoTools registers a couple of harmless reference tools: echo and
// current time. Real deployments register their own tool sets in their
// own worker binaries; this one is a wire-protocol demonstration only.
func demoTools() map[string]toolDef {
	echoSchema := json.RawMessage(`{"name":"echo","description":"Echoes the given text back.","input_schema":{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}}`)
	timeSchema := json.RawMessage(`{"name":"current_time","description":"Returns the current UTC time.","input_schema":{"type":"object","properties":{}}}`)

	return map[string]toolDef{
		"echo": {
			schema: echoSchema,
			handler: func(input json.RawMessage) (string, error) {
				var args struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return args.Text, nil
			},
		},
		"current_time": {
			schema: timeSchema,
			handler: func(input json.RawMessage) (string, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
	}
}
