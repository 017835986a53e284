package config

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Manager holds the active configuration and hot-reloads it when the file
// changes on disk. Readers call Current on every use; the pointer swap is
// atomic so in-flight requests keep a consistent snapshot.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewManager loads the initial configuration from path.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cur.Store(cfg)
	return m, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Set swaps the active configuration. Exposed for tests.
func (m *Manager) Set(cfg *Config) {
	if cfg != nil {
		m.cur.Store(cfg)
	}
}

// Watch re-reads the configuration whenever the file is written, until ctx is
// done. Editors replace files rather than writing in place, so the parent
// directory is watched and events are filtered by name. A reload failure
// keeps the previous configuration active.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(m.path)
			if err != nil {
				log.WithError(err).Warn("config reload failed, keeping previous configuration")
				continue
			}
			m.cur.Store(cfg)
			log.WithField("path", m.path).Info("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
