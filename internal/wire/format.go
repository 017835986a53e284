// Package wire abstracts the provider request formats the gateway understands.
// Each supported wire protocol is described by a Descriptor that knows how to
// detect a request body's shape, enumerate tool calls and tool results inside
// it, and rewrite a tool result's content in place. Bodies are mutated with
// sjson so every field the gateway does not touch survives re-serialization
// unchanged.
package wire

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Format identifies a provider wire protocol.
type Format string

const (
	// FormatClaude is the Anthropic Messages shape: top-level "system"
	// plus a flat "messages" array where tool results are blocks tagged
	// with "tool_use_id" inside user-role messages.
	FormatClaude Format = "claude"

	// FormatConverse is the Converse-style shape: top-level
	// "inferenceConfig" plus block-tagged messages keyed by "toolUseId".
	FormatConverse Format = "converse"

	// FormatResponses is the Responses shape: a flat "input" item list
	// where a tool result is its own item type carrying a "call_id".
	FormatResponses Format = "responses"
)

// ToolCallRef describes one tool invocation found in a request body.
type ToolCallRef struct {
	// CallID is the provider-assigned call identifier, as it appears on
	// the wire. Compare with NormalizeCallID.
	CallID string
	// Name is the tool name.
	Name string
	// Args is the serialized JSON argument payload. May be malformed;
	// consumers must tolerate that per entry.
	Args string
	// Turn is the 1-based ordinal of the assistant turn the call belongs
	// to. Contiguous assistant-authored entries count as a single turn.
	Turn int
}

// ToolResultRef describes one tool result found in a request body.
type ToolResultRef struct {
	// CallID is the call identifier the result is tagged with.
	CallID string
	// ContentPath is the gjson/sjson path of the result's content within
	// the body.
	ContentPath string
	// ToolName is the tool name when the format carries it inline
	// (Converse does not; it is resolved from the metadata cache instead).
	ToolName string
}

// Descriptor is the adapter contract for one wire protocol. Descriptors are
// stateless and safe for concurrent use. All mutating methods return the
// (possibly new) body plus a flag reporting whether a mutation occurred, so
// the caller can decide whether re-serialization is needed.
type Descriptor interface {
	Format() Format

	// Detect reports whether the body is a well-formed request in this
	// descriptor's format. For any given body at most one registered
	// descriptor detects it.
	Detect(body []byte) bool

	// Messages returns the entries of the conversation history array, or
	// nil when the body carries none.
	Messages(body []byte) []gjson.Result

	// InjectSystemNote appends text to the request's system/instructions
	// surface.
	InjectSystemNote(body []byte, note string) ([]byte, bool)

	// AppendUserTurn appends a user-authored text turn to the history.
	AppendUserTurn(body []byte, text string) ([]byte, bool)

	// ListToolCalls enumerates assistant tool invocations in history order.
	ListToolCalls(body []byte) []ToolCallRef

	// ListToolResults enumerates tool results in history order.
	ListToolResults(body []byte) []ToolResultRef

	// HasToolResults reports whether the body carries any tool result.
	HasToolResults(body []byte) bool

	// OverwriteToolResult replaces the content of the tool result tagged
	// with callID (matched case-insensitively). Overwriting with the same
	// replacement twice is a no-op the second time.
	OverwriteToolResult(body []byte, callID, replacement string) ([]byte, bool)
}

// descriptors is the closed set of supported formats. Adding a provider
// format means adding a Descriptor here.
var descriptors = []Descriptor{
	claudeDescriptor{},
	converseDescriptor{},
	responsesDescriptor{},
}

// Descriptors returns the registered descriptors.
func Descriptors() []Descriptor {
	return descriptors
}

// Detect probes every registered descriptor and returns the one that claims
// the body, or nil when no format recognizes it. Detection predicates are
// structurally disjoint, so the probe order does not matter.
func Detect(body []byte) Descriptor {
	if len(body) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return nil
	}
	for _, d := range descriptors {
		if d.Detect(body) {
			return d
		}
	}
	return nil
}

// Lookup returns the descriptor for a format name.
func Lookup(f Format) Descriptor {
	for _, d := range descriptors {
		if d.Format() == f {
			return d
		}
	}
	return nil
}

// NormalizeCallID lowercases a call identifier. Providers are inconsistent
// about call-id casing, so every comparison goes through this.
func NormalizeCallID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
