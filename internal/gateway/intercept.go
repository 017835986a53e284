package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/contextgate/contextgate/internal/wire"
)

// interceptOutcome reports what the chokepoint did to one outgoing request.
type interceptOutcome struct {
	body        []byte
	format      wire.Format
	sessionID   string
	redactions  int
	tokensSaved int
}

// intercept runs the full interception pipeline over an outgoing body:
// format detection, tool-metadata caching, cross-session prunable-union
// redaction, and prunable-listing injection. It never fails: any panic or
// parse problem yields the original body untouched.
func (s *Server) intercept(body []byte, sessionID string) (out interceptOutcome) {
	out = interceptOutcome{body: body, sessionID: sessionID}
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("interception failed, forwarding request unmodified")
			out = interceptOutcome{body: body, sessionID: sessionID}
		}
	}()

	d := wire.Detect(body)
	if d == nil {
		return out
	}
	out.format = d.Format()

	calls := d.ListToolCalls(body)
	s.cache.Observe(calls)

	if out.sessionID == "" {
		out.sessionID = deriveSessionID(d, body)
	}
	s.rememberBody(out.sessionID, body)

	// Child/delegated conversations are never redacted and never
	// contribute prunable IDs.
	if s.store.IsChild(out.sessionID) {
		return out
	}

	cfg := s.cfg()
	marker := cfg.GetRedactionMarker()
	union := s.store.UnionPrunedIDs()

	working := body
	for _, ref := range d.ListToolResults(working) {
		key := wire.NormalizeCallID(ref.CallID)
		if _, ok := union[key]; !ok {
			continue
		}
		content := gjson.GetBytes(working, ref.ContentPath)
		text := content.String()
		if content.IsArray() || content.IsObject() {
			text = content.Raw
		}
		replaced, changed := d.OverwriteToolResult(working, ref.CallID, marker)
		if !changed {
			continue
		}
		working = replaced
		out.redactions++
		if saved := s.est.Count(text) - s.est.Count(marker); saved > 0 {
			out.tokensSaved += saved
		}
	}

	if listing := s.buildListing(d, working, out.sessionID, union); listing != "" {
		note := listing
		if nudge := strings.TrimSpace(cfg.PruneNudge); nudge != "" {
			note = nudge + "\n" + listing
		}
		if injected, changed := d.InjectSystemNote(working, note); changed {
			working = injected
		}
	}

	out.body = working
	if out.redactions > 0 {
		s.store.RecordTokensSaved(out.sessionID, out.tokensSaved)
		RecordRedactions(out.redactions)
		RecordTokensSaved(out.tokensSaved)
		log.WithFields(log.Fields{
			"session":      out.sessionID,
			"format":       out.format,
			"redactions":   out.redactions,
			"tokens_saved": out.tokensSaved,
		}).Debug("redacted pruned tool results")
	}
	return out
}

// buildListing renders the prunable-candidate listing for the session: every
// tool result still present in the body whose call is neither pruned already
// nor produced by a protected tool.
func (s *Server) buildListing(d wire.Descriptor, body []byte, sessionID string, union map[string]struct{}) string {
	protected := s.cfg().GetProtectedTools()
	var candidates []string
	seen := make(map[string]struct{})
	for _, ref := range d.ListToolResults(body) {
		key := wire.NormalizeCallID(ref.CallID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := union[key]; ok {
			continue
		}
		if rec, ok := s.cache.Get(key); ok {
			if _, prot := protected[strings.ToLower(rec.Name)]; prot {
				continue
			}
		}
		candidates = append(candidates, key)
	}
	return s.builder.Build(sessionID, candidates)
}

// deriveSessionID hashes the first user message so requests from the same
// conversation map to the same session when the client sends no session
// header.
func deriveSessionID(d wire.Descriptor, body []byte) string {
	for _, msg := range d.Messages(body) {
		if msg.Get("role").String() != "user" {
			continue
		}
		content := msg.Get("content")
		text := content.String()
		if content.IsArray() || content.IsObject() {
			text = content.Raw
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])[:16]
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}
