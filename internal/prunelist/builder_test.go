package prunelist

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextgate/contextgate/internal/session"
	"github.com/contextgate/contextgate/internal/toolcache"
)

func newTestBuilder(t *testing.T) (*Builder, *toolcache.Cache, *session.Store) {
	t.Helper()
	store, err := session.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	cache := toolcache.New()
	return NewBuilder(cache, store), cache, store
}

func TestBuildEmpty(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	assert.Equal(t, "", b.Build("sess", nil))
	assert.Equal(t, "", b.Build("sess", []string{}))
}

func TestBuildListing(t *testing.T) {
	b, cache, _ := newTestBuilder(t)
	cache.Put("call_a", "Read", `{"file_path":"/tmp/a.txt"}`)
	cache.Put("call_b", "Bash", `{"command":"ls -la","description":"list files"}`)

	got := b.Build("sess", []string{"call_a", "call_b"})
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "<prunable-tools>", lines[0])
	assert.Equal(t, "1: Read, /tmp/a.txt", lines[1])
	assert.Equal(t, "2: Bash, list files", lines[2])
	assert.Equal(t, "</prunable-tools>", lines[3])
}

func TestBuildReusesAliases(t *testing.T) {
	b, cache, store := newTestBuilder(t)
	cache.Put("call_a", "Read", `{"file_path":"/tmp/a.txt"}`)

	first := b.Build("sess", []string{"call_a"})
	second := b.Build("sess", []string{"call_a"})
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Alias("sess", "call_a"))
}

func TestBuildUnknownTool(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	got := b.Build("sess", []string{"mystery"})
	assert.Contains(t, got, "1: unknown")
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args string
		want string
	}{
		{"file path", "Read", `{"file_path":"/tmp/a.txt"}`, "/tmp/a.txt"},
		{"alt path key", "Write", `{"path":"/etc/conf"}`, "/etc/conf"},
		{"shell description", "Bash", `{"command":"ls","description":"list"}`, "list"},
		{"shell command only", "Bash", `{"command":"echo hi"}`, "echo hi"},
		{"empty object", "Read", `{}`, ""},
		{"empty array", "Read", `[]`, ""},
		{"null", "Read", `null`, ""},
		{"blank", "Read", ``, ""},
		{"unknown tool json", "Fetch", `{"url": "http://x"}`, `{"url":"http://x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.tool, tt.args))
		})
	}
}

func TestSummarizeTruncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := Summarize("Bash", `{"command":"`+long+`"}`)
	assert.LessOrEqual(t, len(got), 80)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSummarizeTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ファイル", 40)
	got := Summarize("Bash", `{"command":"`+long+`"}`)
	assert.True(t, utf8.ValidString(got), "truncation must not split a multi-byte rune")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 80)

	compact := Summarize("Fetch", `{"query":"`+long+`"}`)
	assert.True(t, utf8.ValidString(compact))
}
