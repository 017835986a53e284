package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextgate/contextgate/internal/config"
	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/tokens"
	"github.com/contextgate/contextgate/internal/toolcache"
)

func newTestEngine(t *testing.T) (*Engine, *session.Store, *toolcache.Cache) {
	t.Helper()
	store, err := session.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	cache := toolcache.New()
	cfg := config.Default()
	zero := 0
	cfg.Analysis.RecentTurnsProtected = &zero

	eng := NewEngine(store, cache, tokens.NewEstimator(4), func() *config.Config { return cfg })
	return eng, store, cache
}

func claudeHistory(blocks string) []byte {
	return []byte(`{"model":"claude-sonnet-4","max_tokens":1024,"system":"s","messages":[` + blocks + `]}`)
}

func readCall(id, path string) string {
	return `{"role":"assistant","content":[{"type":"tool_use","id":"` + id + `","name":"Read","input":{"file_path":"` + path + `"}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"` + id + `","content":"contents of ` + path + `"}]}`
}

func writeCall(id, path string) string {
	return `{"role":"assistant","content":[{"type":"tool_use","id":"` + id + `","name":"Write","input":{"file_path":"` + path + `","content":"data"}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"` + id + `","content":"wrote ` + path + `"}]}`
}

func TestAnalyzeTripleReadMarksFirstTwo(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	body := claudeHistory(readCall("R1", "a.txt") + "," + readCall("R2", "a.txt") + "," + readCall("R3", "a.txt"))

	added := eng.Analyze("sess", body)
	assert.Equal(t, 2, added)
	assert.True(t, store.IsPruned("sess", "r1"))
	assert.True(t, store.IsPruned("sess", "r2"))
	assert.False(t, store.IsPruned("sess", "r3"))

	running, _ := store.TokensSaved("sess")
	assert.Greater(t, running, 0)
}

func TestAnalyzeWriteSupersededByRead(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	body := claudeHistory(writeCall("W1", "config.json") + "," + readCall("RD1", "config.json"))

	added := eng.Analyze("sess", body)
	assert.Equal(t, 1, added)
	assert.True(t, store.IsPruned("sess", "w1"))
	assert.False(t, store.IsPruned("sess", "rd1"))
}

func TestAnalyzeChildSessionSkipped(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	store.MarkChild("kid")
	body := claudeHistory(readCall("R1", "a.txt") + "," + readCall("R2", "a.txt"))

	assert.Equal(t, 0, eng.Analyze("kid", body))
	assert.Empty(t, store.PrunedIDs("kid"))
}

func TestAnalyzeIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	body := claudeHistory(readCall("R1", "a.txt") + "," + readCall("R2", "a.txt"))

	assert.Equal(t, 1, eng.Analyze("sess", body))
	assert.Equal(t, 0, eng.Analyze("sess", body))
}

func TestAnalyzeUnknownFormat(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	assert.Equal(t, 0, eng.Analyze("sess", []byte(`{"foo":"bar"}`)))
	assert.Equal(t, 0, eng.Analyze("sess", []byte("not json")))
}

func TestAnalyzePopulatesToolCache(t *testing.T) {
	eng, _, cache := newTestEngine(t)
	body := claudeHistory(readCall("R1", "a.txt"))
	eng.Analyze("sess", body)

	rec, ok := cache.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "Read", rec.Name)
}

func TestAnalyzeProtectedToolNeverPruned(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	blocks := `{"role":"assistant","content":[{"type":"tool_use","id":"T1","name":"Task","input":{"prompt":"x"}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"T1","content":"out"}]},` +
		`{"role":"assistant","content":[{"type":"tool_use","id":"T2","name":"Task","input":{"prompt":"x"}}]},` +
		`{"role":"user","content":[{"type":"tool_result","tool_use_id":"T2","content":"out"}]}`
	assert.Equal(t, 0, eng.Analyze("sess", claudeHistory(blocks)))
	assert.Empty(t, store.PrunedIDs("sess"))
}

func TestAnalyzeRecencyFloorFromConfig(t *testing.T) {
	store, err := session.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	cfg := config.Default() // default floor of 3 assistant turns
	eng := NewEngine(store, toolcache.New(), tokens.NewEstimator(4), func() *config.Config { return cfg })

	// Three duplicate reads across three assistant turns, all within the
	// default floor: nothing may be pruned.
	body := claudeHistory(readCall("R1", "a.txt") + "," + readCall("R2", "a.txt") + "," + readCall("R3", "a.txt"))
	assert.Equal(t, 0, eng.Analyze("sess", body))
}
