package session

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestGetCreatesEmptyState(t *testing.T) {
	s := newTestStore(t, "")
	st := s.Get("sess-1")
	if st == nil || len(st.Pruned) != 0 || st.NextAlias != 1 {
		t.Fatalf("unexpected fresh state: %+v", st)
	}
}

func TestAddPrunedIDsNormalizesCase(t *testing.T) {
	s := newTestStore(t, "")
	s.AddPrunedIDs("sess", []string{"AbC123", "  DeF456 "})

	if !s.IsPruned("sess", "abc123") {
		t.Error("abc123 should be pruned")
	}
	if !s.IsPruned("sess", "ABC123") {
		t.Error("lookup must be case-insensitive")
	}
	got := s.PrunedIDs("sess")
	want := []string{"abc123", "def456"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("PrunedIDs = %v, want %v", got, want)
	}
}

func TestAliasStableAndUnique(t *testing.T) {
	s := newTestStore(t, "")

	first := s.Alias("sess", "call_A")
	if first != 1 {
		t.Errorf("first alias = %d, want 1", first)
	}
	second := s.Alias("sess", "call_B")
	if second != 2 {
		t.Errorf("second alias = %d, want 2", second)
	}

	// Same identifier, any casing, same alias.
	if got := s.Alias("sess", "CALL_A"); got != first {
		t.Errorf("repeated alias = %d, want %d", got, first)
	}

	// Pruning does not recycle aliases.
	s.AddPrunedIDs("sess", []string{"call_a"})
	if got := s.Alias("sess", "call_C"); got != 3 {
		t.Errorf("alias after prune = %d, want 3", got)
	}
}

func TestResolveAliases(t *testing.T) {
	s := newTestStore(t, "")
	s.Alias("sess", "call_A")
	s.Alias("sess", "call_B")

	ids := s.ResolveAliases("sess", []int{2, 1, 99})
	if len(ids) != 2 || ids[0] != "call_b" || ids[1] != "call_a" {
		t.Errorf("ResolveAliases = %v", ids)
	}
}

func TestUnionExcludesChildSessions(t *testing.T) {
	s := newTestStore(t, "")
	s.AddPrunedIDs("parent", []string{"id1"})
	s.AddPrunedIDs("kid", []string{"id2"})
	s.MarkChild("kid")

	union := s.UnionPrunedIDs()
	if _, ok := union["id1"]; !ok {
		t.Error("id1 missing from union")
	}
	if _, ok := union["id2"]; ok {
		t.Error("child session id leaked into union")
	}
}

func TestTokensSavedCounters(t *testing.T) {
	s := newTestStore(t, "")
	s.RecordTokensSaved("sess", 100)
	s.RecordTokensSaved("sess", 50)
	s.RecordTokensSaved("sess", -5)

	running, total := s.TokensSaved("sess")
	if running != 150 || total != 150 {
		t.Errorf("TokensSaved = (%d, %d), want (150, 150)", running, total)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.AddPrunedIDs("sess", []string{"AbC"})
	s.Alias("sess", "AbC")
	s.Alias("sess", "other")
	s.RecordTokensSaved("sess", 42)
	s.Close() // drains pending flushes

	if _, err := os.Stat(filepath.Join(dir, "sessions", "sess.json")); err != nil {
		t.Fatalf("persisted file missing: %v", err)
	}

	reloaded := newTestStore(t, dir)
	if !reloaded.IsPruned("sess", "abc") {
		t.Error("pruned id lost across restart")
	}
	if got := reloaded.Alias("sess", "abc"); got != 1 {
		t.Errorf("alias after reload = %d, want 1", got)
	}
	if got := reloaded.Alias("sess", "brand_new"); got != 3 {
		t.Errorf("next alias after reload = %d, want 3", got)
	}
	_, total := reloaded.TokensSaved("sess")
	if total != 42 {
		t.Errorf("total tokens after reload = %d, want 42", total)
	}
}

func TestCorruptStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sessions", "bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, dir)
	st := s.Get("bad")
	if len(st.Pruned) != 0 || st.NextAlias != 1 {
		t.Errorf("corrupt state should yield fresh session, got %+v", st)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"simple", "simple"},
		{"a/b\\c", "a_b_c"},
		{"", "_"},
		{"dots.and-dashes_ok", "dots.and-dashes_ok"},
	}
	for _, tt := range tests {
		if got := sanitizeKey(tt.in); got != tt.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
