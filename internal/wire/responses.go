package wire

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// responsesDescriptor handles the Responses shape: a flat "input" item list
// where a tool invocation is a "function_call" item and its result is a
// separate "function_call_output" item carrying the call identifier directly.
// The system surface is the top-level "instructions" string.
type responsesDescriptor struct{}

func (responsesDescriptor) Format() Format { return FormatResponses }

func (responsesDescriptor) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	if !root.IsObject() || root.Get("messages").Exists() {
		return false
	}
	input := root.Get("input")
	if !input.Exists() || !input.IsArray() {
		return false
	}
	if root.Get("instructions").Exists() {
		return true
	}
	// Responses input items are objects; an Embeddings request's input is a
	// string array and must not be claimed.
	items := input.Array()
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.IsObject() {
			return false
		}
	}
	return true
}

func (responsesDescriptor) Messages(body []byte) []gjson.Result {
	input := gjson.GetBytes(body, "input")
	if !input.Exists() || !input.IsArray() {
		return nil
	}
	return input.Array()
}

func (responsesDescriptor) InjectSystemNote(body []byte, note string) ([]byte, bool) {
	if note == "" {
		return body, false
	}
	inst := gjson.GetBytes(body, "instructions")
	text := note
	if inst.Type == gjson.String && inst.String() != "" {
		text = inst.String() + "\n\n" + note
	}
	out, err := sjson.SetBytes(body, "instructions", text)
	if err != nil {
		return body, false
	}
	return out, true
}

func (d responsesDescriptor) AppendUserTurn(body []byte, text string) ([]byte, bool) {
	if text == "" || d.Messages(body) == nil {
		return body, false
	}
	item, err := json.Marshal(map[string]any{
		"type":    "message",
		"role":    "user",
		"content": []map[string]string{{"type": "input_text", "text": text}},
	})
	if err != nil {
		return body, false
	}
	out, err := sjson.SetRawBytes(body, "input.-1", item)
	if err != nil {
		return body, false
	}
	return out, true
}

func (d responsesDescriptor) ListToolCalls(body []byte) []ToolCallRef {
	var out []ToolCallRef
	turn := 0
	prevAssistant := false
	for _, item := range d.Messages(body) {
		typ := item.Get("type").String()
		assistant := typ == "function_call" ||
			(typ == "message" && item.Get("role").String() == "assistant")
		if assistant && !prevAssistant {
			turn++
		}
		prevAssistant = assistant
		if typ != "function_call" {
			continue
		}
		id := item.Get("call_id").String()
		if id == "" {
			continue
		}
		out = append(out, ToolCallRef{
			CallID: id,
			Name:   item.Get("name").String(),
			Args:   item.Get("arguments").String(),
			Turn:   turn,
		})
	}
	return out
}

func (d responsesDescriptor) ListToolResults(body []byte) []ToolResultRef {
	var out []ToolResultRef
	for i, item := range d.Messages(body) {
		if item.Get("type").String() != "function_call_output" {
			continue
		}
		id := item.Get("call_id").String()
		if id == "" {
			continue
		}
		out = append(out, ToolResultRef{
			CallID:      id,
			ContentPath: "input." + strconv.Itoa(i) + ".output",
		})
	}
	return out
}

func (d responsesDescriptor) HasToolResults(body []byte) bool {
	return len(d.ListToolResults(body)) > 0
}

func (d responsesDescriptor) OverwriteToolResult(body []byte, callID, replacement string) ([]byte, bool) {
	return overwriteStringContent(d.ListToolResults(body), body, callID, replacement)
}
