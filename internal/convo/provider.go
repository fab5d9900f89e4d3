package convo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// StopReason mirrors the provider's terminal reason for ending a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolSchema is a single tool definition offered to the provider: a name,
// a human description, and a JSON Schema for its input.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CompletionRequest is the provider contract's single non-streaming call
// shape: {model, max_tokens, messages, system?, tools?}. The provider
// contract deliberately excludes streaming token deltas.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	Messages  []Message
	System    string
	Tools     []ToolSchema
}

// CompletionResponse is the provider's reply: an ordered content-block
// sequence plus the reason the turn ended.
type CompletionResponse struct {
	Content    []Block
	StopReason StopReason
}

// Provider is the contract an LLM backend must satisfy: a single blocking
// call that returns the next turn's content blocks. Implementations must
// not stream; the agent loop only ever needs the completed turn.
type Provider interface {
	Create(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// AnthropicProvider drives the Anthropic SDK's non-streaming Messages.New
// call, the Go equivalent of the Python prototype's
// `self.client.messages.create(**kwargs)`.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider constructs a provider from an API key. An empty key
// falls back to the SDK's default environment-variable resolution
// (ANTHROPIC_API_KEY), matching the teacher's provider constructors.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Create implements Provider.
func (p *AnthropicProvider) Create(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("convo: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convo: convert tools: %w", err)
		}
		params.Tools = tools
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("convo: provider call failed: %w", err)
	}

	blocks := make([]Block, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, TextBlock(block.Text))
		case "tool_use":
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("convo: marshal tool_use input: %w", err)
			}
			blocks = append(blocks, ToolUseBlock(block.ID, block.Name, input))
		}
	}

	return &CompletionResponse{
		Content:    blocks,
		StopReason: StopReason(resp.StopReason),
	}, nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content.IsString() {
			content = append(content, anthropic.NewTextBlock(*msg.Content.Text))
		} else {
			for _, block := range msg.Content.Blocks {
				switch block.Type {
				case BlockText:
					content = append(content, anthropic.NewTextBlock(block.Text))
				case BlockToolUse:
					var input map[string]any
					if len(block.ToolUseInput) > 0 {
						if err := json.Unmarshal(block.ToolUseInput, &input); err != nil {
							return nil, fmt.Errorf("tool_use input for %q: %w", block.ToolUseName, err)
						}
					}
					content = append(content, anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolUseName))
				case BlockToolResult:
					content = append(content, anthropic.NewToolResultBlock(block.ToolResultID, block.ToolResultContent, false))
				}
			}
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %q: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %q: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
