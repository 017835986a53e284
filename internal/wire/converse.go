package wire

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// converseDescriptor handles the Converse-style shape: a top-level
// "inferenceConfig" object, a "system" block array, and block-tagged messages
// where invocations are "toolUse" blocks and results are "toolResult" blocks
// keyed by "toolUseId". Result content must stay a block array, so redaction
// writes a single text block.
type converseDescriptor struct{}

func (converseDescriptor) Format() Format { return FormatConverse }

func (converseDescriptor) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return false
	}
	msgs := root.Get("messages")
	return msgs.Exists() && msgs.IsArray() && root.Get("inferenceConfig").Exists()
}

func (converseDescriptor) Messages(body []byte) []gjson.Result {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.Exists() || !msgs.IsArray() {
		return nil
	}
	return msgs.Array()
}

func (converseDescriptor) InjectSystemNote(body []byte, note string) ([]byte, bool) {
	if note == "" {
		return body, false
	}
	block, err := json.Marshal(map[string]string{"text": note})
	if err != nil {
		return body, false
	}
	sys := gjson.GetBytes(body, "system")
	if sys.Exists() && sys.IsArray() {
		out, err := sjson.SetRawBytes(body, "system.-1", block)
		if err != nil {
			return body, false
		}
		return out, true
	}
	out, err := sjson.SetRawBytes(body, "system", []byte("["+string(block)+"]"))
	if err != nil {
		return body, false
	}
	return out, true
}

func (d converseDescriptor) AppendUserTurn(body []byte, text string) ([]byte, bool) {
	if text == "" || d.Messages(body) == nil {
		return body, false
	}
	msg, err := json.Marshal(map[string]any{
		"role":    "user",
		"content": []map[string]string{{"text": text}},
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

func (d converseDescriptor) ListToolCalls(body []byte) []ToolCallRef {
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
			use := block.Get("toolUse")
			if !use.Exists() {
				continue
			}
			id := use.Get("toolUseId").String()
			if id == "" {
				continue
			}
			args := use.Get("input").Raw
			if args == "" {
				args = "{}"
			}
			out = append(out, ToolCallRef{
				CallID: id,
				Name:   use.Get("name").String(),
				Args:   args,
				Turn:   turn,
			})
		}
	}
	return out
}

func (d converseDescriptor) ListToolResults(body []byte) []ToolResultRef {
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
			res := block.Get("toolResult")
			if !res.Exists() {
				continue
			}
			id := res.Get("toolUseId").String()
			if id == "" {
				continue
			}
			out = append(out, ToolResultRef{
				CallID:      id,
				ContentPath: "messages." + strconv.Itoa(i) + ".content." + strconv.Itoa(j) + ".toolResult.content",
			})
		}
	}
	return out
}

func (d converseDescriptor) HasToolResults(body []byte) bool {
	return len(d.ListToolResults(body)) > 0
}

func (d converseDescriptor) OverwriteToolResult(body []byte, callID, replacement string) ([]byte, bool) {
	want := NormalizeCallID(callID)
	block, err := json.Marshal([]map[string]string{{"text": replacement}})
	if err != nil {
		return body, false
	}
	changed := false
	for _, ref := range d.ListToolResults(body) {
		if NormalizeCallID(ref.CallID) != want {
			continue
		}
		current := gjson.GetBytes(body, ref.ContentPath)
		if current.IsArray() {
			arr := current.Array()
			if len(arr) == 1 && arr[0].Get("text").String() == replacement {
				continue
			}
		}
		out, err := sjson.SetRawBytes(body, ref.ContentPath, block)
		if err != nil {
			continue
		}
		body = out
		changed = true
	}
	return body, changed
}
