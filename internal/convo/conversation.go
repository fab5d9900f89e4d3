package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ToolHandler executes a single tool call and returns its result content.
// Handlers run concurrently across the tool_use blocks of one assistant
// turn, so implementations must be safe for concurrent use.
type ToolHandler func(ctx context.Context, input json.RawMessage) (string, error)

// Conversation drives the agent loop: it owns the message transcript, the
// registered tool schemas/handlers, and the calls into a Provider. It is
// the Go counterpart of the Python prototype's Conversation class
// (conversation.py): register_tool, send, step, run_until_done.
type Conversation struct {
	provider  Provider
	model     string
	system    string
	maxTokens int

	mu       sync.Mutex
	messages []Message
	tools    []ToolSchema
	handlers map[string]ToolHandler
}

// Config is the construction-time configuration of a Conversation.
type Config struct {
	Provider  Provider
	Model     string
	System    string
	MaxTokens int
}

// New constructs an empty Conversation.
func New(cfg Config) *Conversation {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Conversation{
		provider:  cfg.Provider,
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: maxTokens,
		handlers:  make(map[string]ToolHandler),
	}
}

// Messages returns a copy of the current transcript, in order.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetMessages replaces the transcript wholesale, used when loading a
// persisted session.
func (c *Conversation) SetMessages(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = messages
}

// RegisterTool installs a schema and its handler. A tool registered twice
// under the same name overwrites the prior handler but keeps a single
// schema entry, mirroring the Python prototype's dict-keyed
// tool_handlers.
func (c *Conversation) RegisterTool(schema ToolSchema, handler ToolHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handlers[schema.Name]; !exists {
		c.tools = append(c.tools, schema)
	}
	c.handlers[schema.Name] = handler
}

// create issues one provider call against the current transcript.
func (c *Conversation) create(ctx context.Context) (*CompletionResponse, error) {
	c.mu.Lock()
	req := CompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  append([]Message(nil), c.messages...),
		System:    c.system,
		Tools:     append([]ToolSchema(nil), c.tools...),
	}
	c.mu.Unlock()

	return c.provider.Create(ctx, req)
}

// Send appends a user turn and calls the provider, appending the
// assistant's reply to the transcript.
func (c *Conversation) Send(ctx context.Context, userText string) (*CompletionResponse, error) {
	c.mu.Lock()
	c.messages = append(c.messages, UserMessage(userText))
	c.mu.Unlock()

	resp, err := c.create(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.messages = append(c.messages, AssistantMessage(resp.Content))
	c.mu.Unlock()

	return resp, nil
}

// Step calls the provider against the transcript as it stands, without
// appending a new user turn. Used after tool results have been appended,
// to let the assistant continue.
func (c *Conversation) Step(ctx context.Context) (*CompletionResponse, error) {
	resp, err := c.create(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.messages = append(c.messages, AssistantMessage(resp.Content))
	c.mu.Unlock()

	return resp, nil
}

// HandleToolUse executes every tool_use block in resp concurrently and
// appends a single user message carrying the ordered tool_result blocks,
// matching each result to its source block's position. A tool call with no
// registered handler, or whose handler returns an error, yields an
// "Error: ..." string result rather than aborting the turn — this mirrors
// conversation.py's `_handle_tool_use`.
func (c *Conversation) HandleToolUse(ctx context.Context, resp *CompletionResponse) {
	type indexed struct {
		index int
		block Block
	}

	var toolUses []indexed
	for i, block := range resp.Content {
		if block.Type == BlockToolUse {
			toolUses = append(toolUses, indexed{index: i, block: block})
		}
	}
	if len(toolUses) == 0 {
		return
	}

	results := make([]Block, len(toolUses))
	var wg sync.WaitGroup
	for slot, tu := range toolUses {
		wg.Add(1)
		go func(slot int, tu indexed) {
			defer wg.Done()
			results[slot] = ToolResultBlock(tu.block.ToolUseID, c.invokeHandler(ctx, tu.block))
		}(slot, tu)
	}
	wg.Wait()

	c.mu.Lock()
	c.messages = append(c.messages, UserToolResults(results))
	c.mu.Unlock()
}

func (c *Conversation) invokeHandler(ctx context.Context, block Block) string {
	c.mu.Lock()
	handler, ok := c.handlers[block.ToolUseName]
	c.mu.Unlock()

	if !ok {
		return fmt.Sprintf("Error: no handler registered for tool '%s'", block.ToolUseName)
	}

	result, err := handler(ctx, block.ToolUseInput)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return result
}

// RunUntilDone drives the full agent loop for a single user turn: send the
// prompt, then while the assistant keeps asking for tools, execute them and
// step again, finally joining all text blocks of the terminal response.
// This is the blocking counterpart described in spec.md; callers needing a
// cancellable, streaming variant use internal/agentrunner instead.
func (c *Conversation) RunUntilDone(ctx context.Context, userText string) (string, error) {
	resp, err := c.Send(ctx, userText)
	if err != nil {
		return "", err
	}

	for resp.StopReason == StopToolUse {
		c.HandleToolUse(ctx, resp)
		resp, err = c.Step(ctx)
		if err != nil {
			return "", err
		}
	}

	var text []string
	for _, block := range resp.Content {
		if block.Type == BlockText {
			text = append(text, block.Text)
		}
	}
	return strings.Join(text, "\n"), nil
}
