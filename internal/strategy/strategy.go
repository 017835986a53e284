// Package strategy implements the deterministic pruning rules: duplicate-call
// elision and write-superseded-by-read elision. Both are pure functions over
// a conversation's tool-call history; the caller decides whether and when to
// commit the resulting candidates into session state.
package strategy

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/contextgate/contextgate/internal/wire"
)

// defaultPathKeys are the argument keys probed for a path-like parameter.
var defaultPathKeys = []string{"file_path", "path", "filename", "file"}

// Options tunes both strategies.
type Options struct {
	// Protected lists lowercased tool names whose calls are never
	// candidates.
	Protected map[string]struct{}

	// RecentTurnsProtected exempts calls from the most recent N assistant
	// turns unconditionally. 0 disables the floor.
	RecentTurnsProtected int

	// WriteTools and ReadTools are the lowercased write/read-class tool
	// names for the supersede-writes rule.
	WriteTools map[string]struct{}
	ReadTools  map[string]struct{}

	// PathKeys overrides the argument keys probed for a path parameter.
	PathKeys []string
}

func (o Options) pathKeys() []string {
	if len(o.PathKeys) > 0 {
		return o.PathKeys
	}
	return defaultPathKeys
}

func (o Options) isProtected(name string) bool {
	_, ok := o.Protected[strings.ToLower(name)]
	return ok
}

// recencyFloor returns the lowest exempt turn number, or a value above every
// turn when the floor is disabled.
func recencyFloor(calls []wire.ToolCallRef, n int) int {
	if n <= 0 {
		return int(^uint(0) >> 1) // no turn is exempt
	}
	maxTurn := 0
	for _, c := range calls {
		if c.Turn > maxTurn {
			maxTurn = c.Turn
		}
	}
	return maxTurn - n + 1
}

// Dedupe returns the call identifiers of every tool invocation that is an
// exact duplicate (same tool, semantically identical parameters) of a later
// invocation. The chronologically most recent member of each group is never
// a candidate.
func Dedupe(calls []wire.ToolCallRef, opts Options) []string {
	groups := make(map[string][]wire.ToolCallRef)
	var order []string
	for _, c := range calls {
		if opts.isProtected(c.Name) {
			continue
		}
		key := strings.ToLower(c.Name) + "\x00" + canonicalArgs(c.Args)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	floor := recencyFloor(calls, opts.RecentTurnsProtected)
	var out []string
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		for _, c := range group[:len(group)-1] {
			if c.Turn >= floor {
				continue
			}
			out = append(out, c.CallID)
		}
	}
	return out
}

// SupersedeWrites returns the call identifiers of write-class invocations
// whose target path is read again later in the same conversation. The later
// read captures the resulting state, so the write's recorded output is
// redundant. A write with no later matching read is never a candidate.
func SupersedeWrites(calls []wire.ToolCallRef, opts Options) []string {
	floor := recencyFloor(calls, opts.RecentTurnsProtected)
	var out []string
	for i, c := range calls {
		if opts.isProtected(c.Name) {
			continue
		}
		if _, ok := opts.WriteTools[strings.ToLower(c.Name)]; !ok {
			continue
		}
		if c.Turn >= floor {
			continue
		}
		path := extractPath(c.Args, opts.pathKeys())
		if path == "" {
			continue
		}
		for _, later := range calls[i+1:] {
			if _, ok := opts.ReadTools[strings.ToLower(later.Name)]; !ok {
				continue
			}
			if extractPath(later.Args, opts.pathKeys()) == path {
				out = append(out, c.CallID)
				break
			}
		}
	}
	return out
}

// canonicalArgs renders argument JSON with recursively sorted object keys so
// that semantically identical calls compare equal regardless of key order.
// Malformed JSON falls back to the trimmed raw text.
func canonicalArgs(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return strings.TrimSpace(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return string(b)
}

// extractPath pulls the first path-like argument out of serialized call
// arguments. Malformed JSON yields no path; the caller skips that entry.
func extractPath(args string, keys []string) string {
	if !gjson.Valid(args) {
		return ""
	}
	for _, key := range keys {
		if v := gjson.Get(args, key); v.Type == gjson.String && v.String() != "" {
			return filepath.Clean(strings.TrimSpace(v.String()))
		}
	}
	return ""
}
