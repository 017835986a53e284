// Package prunelist renders the numbered listing of prunable tool results
// that gets injected into outgoing requests, so an external decision-maker
// can name tool outputs by small integers instead of long call identifiers.
package prunelist

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/toolcache"
)

const (
	listOpenTag  = "<prunable-tools>"
	listCloseTag = "</prunable-tools>"

	maxSummaryLen = 80
)

// shellTools summarize to their description or command rather than a path.
var shellTools = map[string]struct{}{
	"bash": {}, "shell": {}, "exec": {}, "run": {}, "execute_command": {},
}

var pathKeys = []string{"file_path", "path", "filename", "file"}

// Builder renders prunable-candidate listings for a session.
type Builder struct {
	cache *toolcache.Cache
	store *session.Store
}

// NewBuilder wires a listing builder.
func NewBuilder(cache *toolcache.Cache, store *session.Store) *Builder {
	return &Builder{cache: cache, store: store}
}

// Build renders the listing for the given candidate call identifiers,
// assigning or reusing numeric aliases through the session store. Zero
// candidates yield an empty string and the caller must inject nothing.
func (b *Builder) Build(sessionID string, candidateIDs []string) string {
	if len(candidateIDs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(listOpenTag)
	sb.WriteByte('\n')
	for _, id := range candidateIDs {
		alias := b.store.Alias(sessionID, id)
		name := "unknown"
		summary := ""
		if rec, ok := b.cache.Get(id); ok {
			if rec.Name != "" {
				name = rec.Name
			}
			summary = Summarize(rec.Name, rec.Args)
		}
		if summary == "" {
			fmt.Fprintf(&sb, "%d: %s\n", alias, name)
		} else {
			fmt.Fprintf(&sb, "%d: %s, %s\n", alias, name, summary)
		}
	}
	sb.WriteString(listCloseTag)
	return sb.String()
}

// Summarize produces a short human/model-readable description of a tool
// call's parameters. File tools summarize to their path, shell tools to
// their description or a truncated command, everything else to truncated
// compact JSON. Empty argument payloads yield an empty summary.
func Summarize(name, args string) string {
	trimmed := strings.TrimSpace(args)
	switch trimmed {
	case "", "{}", "[]", "null":
		return ""
	}
	if !gjson.Valid(trimmed) {
		return truncate(trimmed, maxSummaryLen)
	}
	parsed := gjson.Parse(trimmed)

	if _, ok := shellTools[strings.ToLower(name)]; ok {
		if desc := parsed.Get("description"); desc.Type == gjson.String && desc.String() != "" {
			return truncate(desc.String(), maxSummaryLen)
		}
		if cmd := parsed.Get("command"); cmd.Type == gjson.String && cmd.String() != "" {
			return truncate(cmd.String(), maxSummaryLen)
		}
	}
	for _, key := range pathKeys {
		if v := parsed.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return truncate(compactJSON(trimmed), maxSummaryLen)
}

func compactJSON(raw string) string {
	var sb strings.Builder
	inString := false
	escaped := false
	for _, r := range raw {
		if inString {
			sb.WriteRune(r)
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			inString = true
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte rune.
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
