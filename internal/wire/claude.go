package wire

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// claudeDescriptor handles the Anthropic Messages shape. Tool invocations are
// "tool_use" blocks in assistant messages; tool results are "tool_result"
// blocks tagged with "tool_use_id" inside user messages.
type claudeDescriptor struct{}

func (claudeDescriptor) Format() Format { return FormatClaude }

func (claudeDescriptor) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return false
	}
	msgs := root.Get("messages")
	if !msgs.Exists() || !msgs.IsArray() {
		return false
	}
	// Converse carries inferenceConfig; Responses carries no messages array.
	if root.Get("inferenceConfig").Exists() {
		return false
	}
	// Only Anthropic-specific markers count: a top-level system field or
	// anthropic_version. max_tokens is not a signal, Chat Completions
	// bodies carry it too.
	if root.Get("system").Exists() || root.Get("anthropic_version").Exists() {
		return true
	}
	// Block-tagged content is also a definite signal.
	found := false
	msgs.ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "tool_use", "tool_result":
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}

func (claudeDescriptor) Messages(body []byte) []gjson.Result {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.Exists() || !msgs.IsArray() {
		return nil
	}
	return msgs.Array()
}

func (claudeDescriptor) InjectSystemNote(body []byte, note string) ([]byte, bool) {
	if note == "" {
		return body, false
	}
	sys := gjson.GetBytes(body, "system")
	switch {
	case !sys.Exists():
		out, err := sjson.SetBytes(body, "system", note)
		if err != nil {
			return body, false
		}
		return out, true
	case sys.Type == gjson.String:
		out, err := sjson.SetBytes(body, "system", sys.String()+"\n\n"+note)
		if err != nil {
			return body, false
		}
		return out, true
	case sys.IsArray():
		block, err := json.Marshal(map[string]string{"type": "text", "text": note})
		if err != nil {
			return body, false
		}
		out, err := sjson.SetRawBytes(body, "system.-1", block)
		if err != nil {
			return body, false
		}
		return out, true
	}
	return body, false
}

func (d claudeDescriptor) AppendUserTurn(body []byte, text string) ([]byte, bool) {
	if text == "" || d.Messages(body) == nil {
		return body, false
	}
	msg, err := json.Marshal(map[string]any{
		"role":    "user",
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		return body, false
	}
	out, err := sjson.SetRawBytes(body, "messages.-1", msg)
	if err != nil {
		return body, false
	}
	return out, true
}

func (d claudeDescriptor) ListToolCalls(body []byte) []ToolCallRef {
	var out []ToolCallRef
	turn := 0
	prevAssistant := false
	for _, msg := range d.Messages(body) {
		assistant := msg.Get("role").String() == "assistant"
		if assistant && !prevAssistant {
			turn++
		}
		prevAssistant = assistant
		if !assistant {
			continue
		}
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for _, block := range content.Array() {
			if block.Get("type").String() != "tool_use" {
				continue
			}
			id := block.Get("id").String()
			if id == "" {
				continue
			}
			args := block.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			out = append(out, ToolCallRef{
				CallID: id,
				Name:   block.Get("name").String(),
				Args:   args,
				Turn:   turn,
			})
		}
	}
	return out
}

func (d claudeDescriptor) ListToolResults(body []byte) []ToolResultRef {
	var out []ToolResultRef
	for i, msg := range d.Messages(body) {
		if msg.Get("role").String() != "user" {
			continue
		}
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for j, block := range content.Array() {
			if block.Get("type").String() != "tool_result" {
				continue
			}
			id := block.Get("tool_use_id").String()
			if id == "" {
				continue
			}
			out = append(out, ToolResultRef{
				CallID:      id,
				ContentPath: "messages." + strconv.Itoa(i) + ".content." + strconv.Itoa(j) + ".content",
			})
		}
	}
	return out
}

func (d claudeDescriptor) HasToolResults(body []byte) bool {
	return len(d.ListToolResults(body)) > 0
}

func (d claudeDescriptor) OverwriteToolResult(body []byte, callID, replacement string) ([]byte, bool) {
	return overwriteStringContent(d.ListToolResults(body), body, callID, replacement)
}

// overwriteStringContent replaces matching results' content with a plain
// string. Shared by the formats whose result content accepts a string value.
func overwriteStringContent(refs []ToolResultRef, body []byte, callID, replacement string) ([]byte, bool) {
	want := NormalizeCallID(callID)
	changed := false
	for _, ref := range refs {
		if NormalizeCallID(ref.CallID) != want {
			continue
		}
		current := gjson.GetBytes(body, ref.ContentPath)
		if current.Type == gjson.String && current.String() == replacement {
			continue
		}
		out, err := sjson.SetBytes(body, ref.ContentPath, replacement)
		if err != nil {
			continue
		}
		body = out
		changed = true
	}
	return body, changed
}
