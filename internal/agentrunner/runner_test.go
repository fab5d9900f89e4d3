package agentrunner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nexushub/toolhub/internal/convo"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []*convo.CompletionResponse
	calls     int
}

func (p *scriptedProvider) Create(ctx context.Context, req convo.CompletionRequest) (*convo.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.responses) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func TestSubmitMessageEmitsToolUseThenDone(t *testing.T) {
	provider := &scriptedProvider{responses: []*convo.CompletionResponse{
		{
			Content: []convo.Block{
				convo.ToolUseBlock("1", "search", json.RawMessage(`{}`)),
			},
			StopReason: convo.StopToolUse,
		},
		{
			Content:    []convo.Block{convo.TextBlock("final answer")},
			StopReason: convo.StopEndTurn,
		},
	}}
	conv := convo.New(convo.Config{Provider: provider, Model: "test"})
	conv.RegisterTool(convo.ToolSchema{Name: "search"}, func(ctx context.Context, input json.RawMessage) (string, error) {
		return "result", nil
	})

	c := NewConnection(conv, nil)

	var events []Event
	var mu sync.Mutex
	done := make(chan error, 1)

	c.SubmitMessage(context.Background(), "find it", func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("turn failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Type != EventToolUse || events[0].ToolName != "search" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EventDone || events[1].Content != "final answer" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

type blockingProvider struct{}

func (blockingProvider) Create(ctx context.Context, req convo.CompletionRequest) (*convo.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubmitMessageCancelsPriorTurn(t *testing.T) {
	conv := convo.New(convo.Config{Provider: blockingProvider{}, Model: "test"})
	c := NewConnection(conv, nil)

	var firstEvents []Event
	var mu sync.Mutex
	firstDone := make(chan error, 1)
	c.SubmitMessage(context.Background(), "one", func(e Event) {
		mu.Lock()
		firstEvents = append(firstEvents, e)
		mu.Unlock()
	}, func(err error) { firstDone <- err })

	secondDone := make(chan error, 1)
	c.SubmitMessage(context.Background(), "two", func(Event) {}, func(err error) { secondDone <- err })

	select {
	case err := <-firstDone:
		if err == nil {
			t.Fatalf("expected the superseded turn to be cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first turn to resolve")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(firstEvents) != 1 || firstEvents[0].Type != EventCancelled {
		t.Fatalf("expected a single EventCancelled for the superseded turn, got %+v", firstEvents)
	}
}
