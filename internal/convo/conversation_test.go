package convo

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeProvider struct {
	responses []*CompletionResponse
	calls     int32
}

func (f *fakeProvider) Create(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	idx := atomic.AddInt32(&f.calls, 1) - 1
	if int(idx) >= len(f.responses) {
		return nil, errors.New("fakeProvider: out of responses")
	}
	return f.responses[idx], nil
}

func TestRunUntilDone_NoTools(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: []Block{TextBlock("hello")}, StopReason: StopEndTurn},
	}}
	conv := New(Config{Provider: provider, Model: "test-model"})

	out, err := conv.RunUntilDone(context.Background(), "hi")
	if err != nil {
		t.Fatalf("RunUntilDone: %v", err)
	}
	if out != "hello" {
		t.Fatalf("got %q, want %q", out, "hello")
	}
	if len(conv.Messages()) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages()))
	}
}

func TestRunUntilDone_WithToolUse(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{
			Content: []Block{
				TextBlock("let me check"),
				ToolUseBlock("call-1", "lookup", json.RawMessage(`{"q":"x"}`)),
			},
			StopReason: StopToolUse,
		},
		{Content: []Block{TextBlock("the answer is 42")}, StopReason: StopEndTurn},
	}}
	conv := New(Config{Provider: provider, Model: "test-model"})
	conv.RegisterTool(ToolSchema{Name: "lookup", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, input json.RawMessage) (string, error) {
			return "42", nil
		})

	out, err := conv.RunUntilDone(context.Background(), "what is it")
	if err != nil {
		t.Fatalf("RunUntilDone: %v", err)
	}
	if out != "the answer is 42" {
		t.Fatalf("got %q", out)
	}

	messages := conv.Messages()
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}
	toolResultMsg := messages[2]
	if toolResultMsg.Role != RoleUser || toolResultMsg.Content.IsString() {
		t.Fatalf("expected block-form tool result message, got %+v", toolResultMsg)
	}
	if len(toolResultMsg.Content.Blocks) != 1 || toolResultMsg.Content.Blocks[0].ToolResultContent != "42" {
		t.Fatalf("unexpected tool result blocks: %+v", toolResultMsg.Content.Blocks)
	}
}

func TestHandleToolUse_MissingHandler(t *testing.T) {
	conv := New(Config{Provider: &fakeProvider{}, Model: "test-model"})
	resp := &CompletionResponse{
		Content:    []Block{ToolUseBlock("call-1", "missing", json.RawMessage(`{}`))},
		StopReason: StopToolUse,
	}
	conv.HandleToolUse(context.Background(), resp)

	messages := conv.Messages()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	got := messages[0].Content.Blocks[0].ToolResultContent
	want := "Error: no handler registered for tool 'missing'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHandleToolUse_PreservesOrder(t *testing.T) {
	conv := New(Config{Provider: &fakeProvider{}, Model: "test-model"})
	conv.RegisterTool(ToolSchema{Name: "a"}, func(ctx context.Context, input json.RawMessage) (string, error) {
		return "A", nil
	})
	conv.RegisterTool(ToolSchema{Name: "b"}, func(ctx context.Context, input json.RawMessage) (string, error) {
		return "B", nil
	})

	resp := &CompletionResponse{
		Content: []Block{
			ToolUseBlock("1", "a", nil),
			ToolUseBlock("2", "b", nil),
		},
		StopReason: StopToolUse,
	}
	conv.HandleToolUse(context.Background(), resp)

	blocks := conv.Messages()[0].Content.Blocks
	if blocks[0].ToolResultID != "1" || blocks[0].ToolResultContent != "A" {
		t.Fatalf("block 0 out of order: %+v", blocks[0])
	}
	if blocks[1].ToolResultID != "2" || blocks[1].ToolResultContent != "B" {
		t.Fatalf("block 1 out of order: %+v", blocks[1])
	}
}

func TestContentJSONRoundTrip(t *testing.T) {
	msg := AssistantMessage([]Block{
		TextBlock("thinking"),
		ToolUseBlock("id1", "tool", json.RawMessage(`{"x":1}`)),
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Content.Blocks) != 2 || out.Content.Blocks[1].ToolUseName != "tool" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}
