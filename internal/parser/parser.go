// Package parser turns streamed assistant text into content blocks.
//
// Tool invocations are written inline as
//
//	<tool_use name="read_file">{"path": "main.go"}</tool_use>
//
// Parse is pure and is re-run on the whole buffer for every chunk, so the
// same prefix always yields the same blocks.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const (
	openPrefix = "<tool_use"
	closeTag   = "</tool_use>"
)

var (
	toolPattern = regexp.MustCompile(`(?s)<tool_use\s+name="([^"]*)"\s*>(.*?)</tool_use>`)
	namePattern = regexp.MustCompile(`^<tool_use\s+name="([^"]*)"`)
)

// Parse splits buffer into text and tool_use blocks in order.
// The last block is marked partial because more of it may still arrive.
// Text before an unterminated opener stays partial too: if the opener
// never becomes a valid invocation, the text absorbs it.
func Parse(buffer string) []models.ContentBlock {
	var blocks []models.ContentBlock

	pos := 0
	for _, m := range toolPattern.FindAllStringSubmatchIndex(buffer, -1) {
		blocks = appendText(blocks, buffer[pos:m[0]], false)
		name := buffer[m[2]:m[3]]
		payload := buffer[m[4]:m[5]]
		blocks = append(blocks, toolBlock(name, payload, buffer[m[0]:m[1]]))
		pos = m[1]
	}

	rest := buffer[pos:]
	if idx := strings.Index(rest, openPrefix); idx >= 0 {
		// An opened but unterminated invocation.
		blocks = appendText(blocks, rest[:idx], true)
		raw := rest[idx:]
		partial := models.ContentBlock{Type: models.BlockToolUse, Partial: true, Text: raw}
		if nm := namePattern.FindStringSubmatch(raw); nm != nil {
			partial.Name = nm[1]
		}
		return append(blocks, partial)
	}

	return appendText(blocks, rest, true)
}

// Finalize marks every block complete once the stream has ended.
// An unterminated invocation becomes plain text holding its raw span.
func Finalize(blocks []models.ContentBlock) []models.ContentBlock {
	if len(blocks) == 0 {
		return blocks
	}
	out := make([]models.ContentBlock, len(blocks))
	copy(out, blocks)

	for i := range out {
		out[i].Partial = false
	}
	if last := &out[len(out)-1]; last.Type == models.BlockToolUse && blocks[len(blocks)-1].Partial {
		*last = models.TextBlock(strings.TrimSpace(last.Text))
	}
	return out
}

// Render serializes a block back to the inline form sent to the model.
func Render(block models.ContentBlock) string {
	switch block.Type {
	case models.BlockToolUse:
		input := block.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, input); err == nil {
			input = compact.Bytes()
		}
		return fmt.Sprintf(`<tool_use name="%s">%s%s`, block.Name, input, closeTag)
	case models.BlockText:
		return block.Text
	default:
		return ""
	}
}

// RenderText joins the text and tool_use blocks of content into one string.
// Image blocks are skipped.
func RenderText(content []models.ContentBlock) string {
	var parts []string
	for _, b := range content {
		if s := Render(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func appendText(blocks []models.ContentBlock, text string, partial bool) []models.ContentBlock {
	text = strings.TrimSpace(text)
	if text == "" {
		return blocks
	}
	return append(blocks, models.ContentBlock{Type: models.BlockText, Text: text, Partial: partial})
}

// toolBlock decodes payload as a JSON object, repairing it if needed.
// A payload that cannot be made into an object degrades to raw text.
func toolBlock(name, payload, raw string) models.ContentBlock {
	name = strings.TrimSpace(name)
	payload = strings.TrimSpace(payload)
	if name == "" {
		return models.TextBlock(raw)
	}
	if payload == "" {
		return models.ToolUseBlock(name, nil)
	}
	if obj, ok := decodeObject(payload); ok {
		return models.ToolUseBlock(name, obj)
	}
	if repaired, err := jsonrepair.JSONRepair(payload); err == nil {
		if obj, ok := decodeObject(repaired); ok {
			return models.ToolUseBlock(name, obj)
		}
	}
	return models.TextBlock(raw)
}

func decodeObject(s string) (json.RawMessage, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	return out, true
}
