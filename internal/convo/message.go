// Package convo implements the in-memory conversation transcript and the
// provider-call driver described in the dispatch fabric's agent loop.
package convo

import (
	"encoding/json"
	"fmt"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of a content Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is a tagged union over the three content-block shapes the provider
// contract and the worker wire protocol mirror: text, tool_use, tool_result.
// Exactly one of the typed fields is populated, matching BlockType.
type Block struct {
	Type BlockType

	// Text holds the block's text when Type == BlockText.
	Text string

	// ToolUseID, ToolUseName, ToolUseInput hold the tool-use fields when
	// Type == BlockToolUse.
	ToolUseID    string
	ToolUseName  string
	ToolUseInput json.RawMessage

	// ToolResultID, ToolResultContent hold the tool-result fields when
	// Type == BlockToolResult.
	ToolResultID      string
	ToolResultContent string
}

// TextBlock constructs a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock constructs a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input}
}

// ToolResultBlock constructs a tool_result content block.
func ToolResultBlock(toolUseID, content string) Block {
	return Block{Type: BlockToolResult, ToolResultID: toolUseID, ToolResultContent: content}
}

// wireBlock is the JSON-on-the-wire shape for a Block, matching the provider
// contract's {type:"text"|"tool_use"|"tool_result", ...} shapes verbatim.
type wireBlock struct {
	Type       BlockType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	Content    string          `json:"content,omitempty"`
}

// MarshalJSON renders the Block in its wire shape for the active variant.
func (b Block) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(wireBlock{Type: BlockText, Text: b.Text})
	case BlockToolUse:
		return json.Marshal(wireBlock{Type: BlockToolUse, ID: b.ToolUseID, Name: b.ToolUseName, Input: b.ToolUseInput})
	case BlockToolResult:
		return json.Marshal(wireBlock{Type: BlockToolResult, ToolUseID: b.ToolResultID, Content: b.ToolResultContent})
	default:
		return nil, fmt.Errorf("convo: unknown block type %q", b.Type)
	}
}

// UnmarshalJSON parses a Block from its wire shape.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case BlockText:
		*b = TextBlock(w.Text)
	case BlockToolUse:
		*b = ToolUseBlock(w.ID, w.Name, w.Input)
	case BlockToolResult:
		*b = ToolResultBlock(w.ToolUseID, w.Content)
	default:
		return fmt.Errorf("convo: unknown block type %q", w.Type)
	}
	return nil
}

// Content is a Message's payload: either a plain string (the common case for
// a simple user turn) or an ordered sequence of Blocks (assistant turns with
// tool_use, and the tool_result turn that follows them). Exactly one of the
// two is populated.
type Content struct {
	Text   *string
	Blocks []Block
}

// StringContent wraps a plain-string content.
func StringContent(text string) Content {
	return Content{Text: &text}
}

// BlocksContent wraps an ordered sequence of content blocks.
func BlocksContent(blocks []Block) Content {
	return Content{Blocks: blocks}
}

// IsString reports whether the content is the plain-string form.
func (c Content) IsString() bool {
	return c.Text != nil
}

// MarshalJSON renders string-form content as a bare JSON string and
// block-form content as a JSON array, matching spec.md's on-disk and
// provider-wire Message shape.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON parses either a bare string or a block array.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = &s
		c.Blocks = nil
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.Blocks = blocks
	c.Text = nil
	return nil
}

// Message is a single transcript entry: a role and its content. Ordering of
// Messages within a Conversation, and of Blocks within a Message, is
// significant and must be preserved verbatim (spec.md §3).
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UserMessage constructs a plain-string user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: StringContent(text)}
}

// UserToolResults constructs the single user Message carrying an ordered
// sequence of tool_result blocks, appended after handling an assistant's
// tool_use blocks.
func UserToolResults(results []Block) Message {
	return Message{Role: RoleUser, Content: BlocksContent(results)}
}

// AssistantMessage constructs an assistant Message from provider-returned
// content blocks.
func AssistantMessage(blocks []Block) Message {
	return Message{Role: RoleAssistant, Content: BlocksContent(blocks)}
}
