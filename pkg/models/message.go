package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType is the variant tag of a ContentBlock.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
	BlockImage   BlockType = "image"
)

// ContentBlock is one piece of message content.
// Only the fields belonging to Type are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text and Partial are set for text blocks. Partial marks a block
	// that may still grow as more of the stream arrives.
	Text    string `json:"text,omitempty"`
	Partial bool   `json:"partial,omitempty"`

	// Name and Input are set for tool_use blocks. Input is a JSON object.
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// MediaType and Data (base64) are set for image blocks.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// TextBlock returns a complete text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool_use block. A nil input becomes an empty object.
func ToolUseBlock(name string, input json.RawMessage) ContentBlock {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return ContentBlock{Type: BlockToolUse, Name: name, Input: input}
}

// ImageBlock returns an image block from base64 data.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, Data: data}
}

// Message is one entry of the conversation history.
type Message struct {
	// ID identifies the message for caching of derived values.
	// Messages whose content changes must get a new ID.
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content ...ContentBlock) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}
