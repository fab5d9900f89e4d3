package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexushub/toolhub/internal/convo"
)

func echoSchema(name string) convo.ToolSchema {
	return convo.ToolSchema{Name: name, InputSchema: json.RawMessage(`{"type":"object"}`)}
}

func TestDispatchRoutesToSoleWorker(t *testing.T) {
	h := New(nil)

	var gotCall WorkerFrame
	send := func(frame WorkerFrame) error {
		gotCall = frame
		go h.HandleToolResult(frame.CallID, "done")
		return nil
	}
	h.RegisterWorker("w1", send, []convo.ToolSchema{echoSchema("ping")})

	content, err := h.Dispatch(context.Background(), "ping", json.RawMessage(`{}`), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if content != "done" {
		t.Fatalf("got %q, want %q", content, "done")
	}
	if gotCall.Name != "ping" {
		t.Fatalf("worker received wrong call: %+v", gotCall)
	}
}

func TestDispatchNoWorker(t *testing.T) {
	h := New(nil)
	content, err := h.Dispatch(context.Background(), "missing", nil, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "Error: no worker registered for tool 'missing'"
	if content != want {
		t.Fatalf("got %q, want %q", content, want)
	}
}

func TestPickWorkerRoundRobin(t *testing.T) {
	h := New(nil)
	h.RegisterWorker("a", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("t")})
	h.RegisterWorker("b", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("t")})

	h.mu.Lock()
	first := h.pickWorker("t", "")
	second := h.pickWorker("t", "")
	third := h.pickWorker("t", "")
	h.mu.Unlock()

	if first == second {
		t.Fatalf("expected round robin to alternate, got %q twice", first)
	}
	if first != third {
		t.Fatalf("expected round robin to cycle back, got %q vs %q", first, third)
	}
}

func TestPickWorkerSessionAffinity(t *testing.T) {
	h := New(nil)
	h.RegisterWorker("a", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("t")})
	h.RegisterWorker("b", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("t")})

	h.mu.Lock()
	chosen := h.pickWorker("t", "session-1")
	again := h.pickWorker("t", "session-1")
	h.mu.Unlock()

	if chosen != again {
		t.Fatalf("expected session affinity to stick: %q vs %q", chosen, again)
	}
}

func TestDispatchCancellationCleansUpState(t *testing.T) {
	h := New(nil)
	h.RegisterWorker("w1", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("slow")})

	// The 120s DispatchTimeout is too long to wait out in a test. A short
	// context deadline ends the dispatch through its ctx.Done() path,
	// which runs the same failDispatch cleanup as the timeout path.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.Dispatch(ctx, "slow", nil, "")
	if err == nil {
		t.Fatalf("expected context deadline error")
	}

	h.mu.Lock()
	pending, calls, busy := len(h.pending), len(h.callToWorker), h.busyWorkers["w1"]
	h.mu.Unlock()
	if pending != 0 || calls != 0 || busy {
		t.Fatalf("dispatch state not cleaned up: pending=%d calls=%d busy=%v", pending, calls, busy)
	}
}

func TestRemoveWorkerClearsToolPool(t *testing.T) {
	h := New(nil)
	h.RegisterWorker("w1", func(WorkerFrame) error { return nil }, []convo.ToolSchema{echoSchema("only")})
	h.RemoveWorker("w1")

	content, err := h.Dispatch(context.Background(), "only", nil, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "Error: no worker registered for tool 'only'"
	if content != want {
		t.Fatalf("got %q, want %q", content, want)
	}
}

func TestRegisterWorkerRejectsMismatchedSchema(t *testing.T) {
	h := New(nil)
	h.RegisterWorker("w1", func(WorkerFrame) error { return nil }, []convo.ToolSchema{
		{Name: "t", InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"string"}}}`)},
	})
	h.RegisterWorker("w2", func(WorkerFrame) error { return nil }, []convo.ToolSchema{
		{Name: "t", InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`)},
	})

	h.mu.Lock()
	workers := h.toolToWorkers["t"]
	h.mu.Unlock()
	if len(workers) != 1 || workers[0] != "w1" {
		t.Fatalf("expected only w1 registered for t, got %v", workers)
	}
}
