package strategy

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/contextgate/contextgate/internal/config"
	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/tokens"
	"github.com/contextgate/contextgate/internal/toolcache"
	"github.com/contextgate/contextgate/internal/wire"
)

// Engine runs both strategies over a conversation's most recent request body
// and commits the resulting candidates into session state. Analysis runs are
// fire-and-forget relative to request interception: a failure is logged and
// never reaches the turn that triggered it.
type Engine struct {
	store *session.Store
	cache *toolcache.Cache
	est   *tokens.Estimator
	cfg   func() *config.Config
}

// NewEngine wires the analysis engine. cfg is called per run so hot-reloaded
// configuration takes effect without restart.
func NewEngine(store *session.Store, cache *toolcache.Cache, est *tokens.Estimator, cfg func() *config.Config) *Engine {
	return &Engine{store: store, cache: cache, est: est, cfg: cfg}
}

// OptionsFromConfig builds strategy options from the active configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Protected:            cfg.GetProtectedTools(),
		RecentTurnsProtected: cfg.Analysis.GetRecentTurnsProtected(),
		WriteTools:           cfg.Analysis.GetWriteTools(),
		ReadTools:            cfg.Analysis.GetReadTools(),
	}
}

// Analyze runs both strategies over body and commits new candidates for the
// session. It returns the number of newly pruned call identifiers. Child
// sessions and unrecognized bodies yield zero without error.
func (e *Engine) Analyze(sessionID string, body []byte) int {
	if sessionID == "" || len(body) == 0 {
		return 0
	}
	if e.store.IsChild(sessionID) {
		return 0
	}
	d := wire.Detect(body)
	if d == nil {
		return 0
	}

	calls := d.ListToolCalls(body)
	if len(calls) == 0 {
		return 0
	}
	e.cache.Observe(calls)

	opts := OptionsFromConfig(e.cfg())
	candidates := append(Dedupe(calls, opts), SupersedeWrites(calls, opts)...)
	if len(candidates) == 0 {
		return 0
	}

	fresh := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		key := wire.NormalizeCallID(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if e.store.IsPruned(sessionID, key) {
			continue
		}
		fresh = append(fresh, key)
	}
	if len(fresh) == 0 {
		return 0
	}

	e.store.AddPrunedIDs(sessionID, fresh)
	e.store.RecordTokensSaved(sessionID, e.estimateSavings(body, d, fresh))
	return len(fresh)
}

// AnalyzeAsync runs Analyze on its own goroutine. Panics are recovered and
// logged; nothing is surfaced to the caller.
func (e *Engine) AnalyzeAsync(sessionID string, body []byte) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"session": sessionID,
					"panic":   r,
				}).Error("pruning analysis panicked")
			}
		}()
		added := e.Analyze(sessionID, body)
		if added > 0 {
			log.WithFields(log.Fields{
				"session": sessionID,
				"added":   added,
			}).Info("pruning analysis marked new candidates")
		}
	}()
}

// EstimateSavings estimates the tokens held by the given calls' results in
// body. Unrecognized bodies estimate to zero.
func (e *Engine) EstimateSavings(body []byte, ids []string) int {
	d := wire.Detect(body)
	if d == nil {
		return 0
	}
	return e.estimateSavings(body, d, ids)
}

// estimateSavings sums the token estimate of each newly pruned result's
// current content in the body.
func (e *Engine) estimateSavings(body []byte, d wire.Descriptor, ids []string) int {
	pruned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pruned[id] = struct{}{}
	}
	total := 0
	for _, ref := range d.ListToolResults(body) {
		if _, ok := pruned[wire.NormalizeCallID(ref.CallID)]; !ok {
			continue
		}
		content := gjson.GetBytes(body, ref.ContentPath)
		text := content.String()
		if content.IsArray() || content.IsObject() {
			text = content.Raw
		}
		total += e.est.Count(text)
	}
	return total
}
