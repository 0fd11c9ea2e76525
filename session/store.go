package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	fileName       = "session.json"
	reloadDebounce = 100 * time.Millisecond
)

// FileStore persists the session in dataDir/session.json.
// The file is written with 0600 permissions since it holds the token.
type FileStore struct {
	path string

	mu      sync.RWMutex
	current *Session

	listenersMu sync.RWMutex
	listeners   []OnChangeListener

	// fsnotify for detecting logins/logouts from other processes
	watcher    *fsnotify.Watcher
	debounce   *time.Timer
	debounceMu sync.Mutex
}

func NewFileStore(dataDir string) (*FileStore, error) {
	s := &FileStore{path: filepath.Join(dataDir, fileName)}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}
	sess, err := s.readFromDisk()
	if err != nil {
		return nil, err
	}
	s.current = sess
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// Current returns the loaded session, or nil when logged out.
func (s *FileStore) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// Token returns the current token or "" when logged out.
func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

func (s *FileStore) Save(sess *Session) error {
	if !sess.Valid() {
		return errors.New("session requires token and user id")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}
	copied := *sess
	s.current = &copied
	return nil
}

// Clear removes the session file. Clearing an absent session is not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.current = nil
	return nil
}

func (s *FileStore) AddOnChangeListener(l OnChangeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *FileStore) readFromDisk() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Treat a corrupted file as logged out; the next login rewrites it.
		slog.Warn("ignoring corrupted session file", "path", s.path, "error", err)
		return nil, nil
	}
	if !sess.Valid() {
		return nil, nil
	}
	return &sess, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "session-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// --- fsnotify: detect logins/logouts done by other gwdesk processes ---

func (s *FileStore) StartWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher

	// Watch the directory (file-level watches don't survive file replacements)
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	go s.watchLoop()
	slog.Info("session store watching for external changes", "path", s.path)
	return nil
}

func (s *FileStore) StopWatching() {
	s.debounceMu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounceMu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *FileStore) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.scheduleReload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("session store fsnotify error", "error", err)
		}
	}
}

func (s *FileStore) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(reloadDebounce, s.reloadFromDisk)
}

func (s *FileStore) reloadFromDisk() {
	sess, err := s.readFromDisk()
	if err != nil {
		slog.Error("failed to reload session", "error", err)
		return
	}

	s.mu.Lock()
	if sameSession(s.current, sess) {
		// Our own Save/Clear already applied this state.
		s.mu.Unlock()
		return
	}
	s.current = sess
	s.mu.Unlock()

	slog.Info("session changed externally", "loggedIn", sess != nil)

	s.listenersMu.RLock()
	listeners := make([]OnChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		if sess == nil {
			l.OnSessionChange(nil)
			continue
		}
		copied := *sess
		l.OnSessionChange(&copied)
	}
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Token == b.Token && a.UserID == b.UserID
}
