// Package session tracks per-conversation pruning state: which call
// identifiers have been marked prunable, the stable numeric aliases exposed to
// the pruning decision-maker, and running token-savings counters. State is
// held in memory and flushed to per-session JSON files by a background
// flusher, so persistence never blocks a conversational turn. In-memory state
// stays authoritative when a flush fails; a later successful flush self-heals.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/contextgate/contextgate/internal/wire"
)

// aliasBase is the first numeric alias handed out in a session.
const aliasBase = 1

// State is the in-memory pruning state of one conversation.
type State struct {
	ID               string
	Pruned           map[string]struct{}
	Aliases          map[string]int
	byAlias          map[int]string
	NextAlias        int
	TokensSaved      int
	TotalTokensSaved int
	Child            bool
}

// diskState is the persisted form of State.
type diskState struct {
	SessionID        string         `json:"session_id"`
	PrunedIDs        []string       `json:"pruned_ids"`
	Aliases          map[string]int `json:"aliases"`
	NextAlias        int            `json:"next_alias"`
	TotalTokensSaved int            `json:"total_tokens_saved"`
	Child            bool           `json:"child,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Store owns every session's state. Safe for concurrent use; session
// identifiers partition the data, and the cross-session union read takes a
// snapshot under the read lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State

	dir       string
	flushCh   chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore creates a store persisting under dir. An empty dir disables
// persistence entirely (used by tests and ephemeral runs).
func NewStore(dir string) (*Store, error) {
	s := &Store{
		sessions: make(map[string]*State),
		dir:      dir,
		flushCh:  make(chan string, 256),
		done:     make(chan struct{}),
	}
	if dir != "" {
		if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o700); err != nil {
			return nil, err
		}
	}
	s.wg.Add(1)
	go s.flusher()
	return s, nil
}

// Close stops the background flusher after draining pending flushes.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// Get returns the state for a session, creating it on first contact. A
// session with no prior persisted state starts empty; that is not an error.
func (s *Store) Get(sessionID string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID)
}

func (s *Store) getLocked(sessionID string) *State {
	if st, ok := s.sessions[sessionID]; ok {
		return st
	}
	st := s.loadFromDisk(sessionID)
	if st == nil {
		st = &State{
			ID:        sessionID,
			Pruned:    make(map[string]struct{}),
			Aliases:   make(map[string]int),
			byAlias:   make(map[int]string),
			NextAlias: aliasBase,
		}
	}
	s.sessions[sessionID] = st
	return st
}

// PrunedIDs returns the session's pruned call identifiers.
func (s *Store) PrunedIDs(sessionID string) []string {
	s.mu.Lock()
	st := s.getLocked(sessionID)
	out := make([]string, 0, len(st.Pruned))
	for id := range st.Pruned {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// IsPruned reports whether a call identifier is pruned in the session.
func (s *Store) IsPruned(sessionID, callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.getLocked(sessionID).Pruned[wire.NormalizeCallID(callID)]
	return ok
}

// AddPrunedIDs marks call identifiers as pruned. Identifiers are normalized
// to lowercase on insertion.
func (s *Store) AddPrunedIDs(sessionID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	st := s.getLocked(sessionID)
	changed := false
	for _, id := range ids {
		key := wire.NormalizeCallID(id)
		if key == "" {
			continue
		}
		if _, ok := st.Pruned[key]; !ok {
			st.Pruned[key] = struct{}{}
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.requestFlush(sessionID)
	}
}

// Alias returns the numeric alias for a call identifier, assigning the next
// one on first request. Assignment is monotonic and append-only: once a call
// identifier has an alias it never changes or is reused, even after the call
// is pruned, so a listing the decision-maker saw earlier stays valid.
func (s *Store) Alias(sessionID, callID string) int {
	key := wire.NormalizeCallID(callID)
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(sessionID)
	if n, ok := st.Aliases[key]; ok {
		return n
	}
	n := st.NextAlias
	st.NextAlias++
	st.Aliases[key] = n
	st.byAlias[n] = key
	s.requestFlush(sessionID)
	return n
}

// ResolveAliases maps numeric aliases back to call identifiers. Unknown
// aliases are skipped.
func (s *Store) ResolveAliases(sessionID string, nums []int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(sessionID)
	out := make([]string, 0, len(nums))
	for _, n := range nums {
		if id, ok := st.byAlias[n]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RecordTokensSaved adds n to the session's savings counters.
func (s *Store) RecordTokensSaved(sessionID string, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	st := s.getLocked(sessionID)
	st.TokensSaved += n
	st.TotalTokensSaved += n
	s.mu.Unlock()
	s.requestFlush(sessionID)
}

// TokensSaved returns the session's (running, total) savings counters.
func (s *Store) TokensSaved(sessionID string) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getLocked(sessionID)
	return st.TokensSaved, st.TotalTokensSaved
}

// MarkChild flags a session as a child/delegated conversation. Child
// sessions are excluded from analysis and from the pruned-ID union.
func (s *Store) MarkChild(sessionID string) {
	s.mu.Lock()
	st := s.getLocked(sessionID)
	changed := !st.Child
	st.Child = true
	s.mu.Unlock()
	if changed {
		s.requestFlush(sessionID)
	}
}

// IsChild reports whether a session is flagged as a child conversation.
func (s *Store) IsChild(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID).Child
}

// UnionPrunedIDs returns the union of pruned call identifiers across every
// known non-child session. The snapshot is consistent per session; an ID
// committed concurrently simply shows up on the next request.
func (s *Store) UnionPrunedIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, st := range s.sessions {
		if st.Child {
			continue
		}
		for id := range st.Pruned {
			out[id] = struct{}{}
		}
	}
	return out
}

// requestFlush queues an asynchronous persistence write for the session.
// Never blocks: if the queue is full the write is dropped and a later
// mutation re-queues it.
func (s *Store) requestFlush(sessionID string) {
	if s.dir == "" {
		return
	}
	select {
	case s.flushCh <- sessionID:
	case <-s.done:
	default:
		log.WithField("session", sessionID).Debug("session flush queue full, write deferred")
	}
}

func (s *Store) flusher() {
	defer s.wg.Done()
	for {
		select {
		case id := <-s.flushCh:
			s.flush(id)
		case <-s.done:
			for {
				select {
				case id := <-s.flushCh:
					s.flush(id)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) flush(sessionID string) {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	var snap diskState
	if ok {
		snap = diskState{
			SessionID:        st.ID,
			PrunedIDs:        make([]string, 0, len(st.Pruned)),
			Aliases:          make(map[string]int, len(st.Aliases)),
			NextAlias:        st.NextAlias,
			TotalTokensSaved: st.TotalTokensSaved,
			Child:            st.Child,
			UpdatedAt:        time.Now(),
		}
		for id := range st.Pruned {
			snap.PrunedIDs = append(snap.PrunedIDs, id)
		}
		for id, n := range st.Aliases {
			snap.Aliases[id] = n
		}
	}
	s.mu.RUnlock()
	if !ok {
		return
	}
	sort.Strings(snap.PrunedIDs)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("session state marshal failed")
		return
	}
	path := s.sessionPath(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("session state write failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("session state rename failed")
	}
}

func (s *Store) loadFromDisk(sessionID string) *State {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("session", sessionID).Warn("session state read failed, starting fresh")
		}
		return nil
	}
	var snap diskState
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).WithField("session", sessionID).Warn("session state corrupt, starting fresh")
		return nil
	}
	st := &State{
		ID:               sessionID,
		Pruned:           make(map[string]struct{}, len(snap.PrunedIDs)),
		Aliases:          make(map[string]int, len(snap.Aliases)),
		byAlias:          make(map[int]string, len(snap.Aliases)),
		NextAlias:        snap.NextAlias,
		TotalTokensSaved: snap.TotalTokensSaved,
		Child:            snap.Child,
	}
	for _, id := range snap.PrunedIDs {
		st.Pruned[wire.NormalizeCallID(id)] = struct{}{}
	}
	for id, n := range snap.Aliases {
		key := wire.NormalizeCallID(id)
		st.Aliases[key] = n
		st.byAlias[n] = key
	}
	if st.NextAlias < aliasBase {
		st.NextAlias = aliasBase
	}
	return st
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, "sessions", sanitizeKey(sessionID)+".json")
}

// sanitizeKey makes a session identifier safe for use as a file name.
func sanitizeKey(key string) string {
	if key == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
