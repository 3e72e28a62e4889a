package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	session "github.com/pgdesk/session-go"
)

// fileData is the on-disk layout of the token file: the same three entries
// the store contract defines, written and cleared as one document.
type fileData struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *session.User `json:"user,omitempty"`
}

// File is a TokenStore persisted to a JSON file, for CLI agents that keep
// a session across process restarts. Writes go through a lock file and an
// atomic temp-and-rename, so several processes can share one token file;
// external updates are picked up via fsnotify so a refresh performed by a
// sibling process becomes visible here without re-reading on every access.
type File struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	creds session.Credentials
	user  *session.User

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// compile-time check
var _ session.TokenStore = (*File)(nil)

// FileOption configures the File store.
type FileOption func(*File)

// WithLogger sets a structured logger for the file store.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.logger = l }
}

// NewFile opens (or creates on first Save) a file-backed token store at
// path. Existing contents are loaded into the in-memory snapshot, so reads
// never touch the disk afterwards.
func NewFile(path string, opts ...FileOption) (*File, error) {
	f := &File{
		path: path,
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("store: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("store: watch %s: %w", filepath.Dir(path), err)
	}
	f.watcher = watcher

	f.wg.Add(1)
	go f.watch()

	return f, nil
}

// watch reloads the snapshot when another process rewrites the token file.
func (f *File) watch() {
	defer f.wg.Done()
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) ||
				ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				if err := f.reload(); err != nil {
					f.logger.Warn("token file reload failed", "path", f.path, "error", err)
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("token file watcher error", "error", err)
		case <-f.done:
			return
		}
	}
}

// reload replaces the snapshot with the current file contents. A missing
// file means a cleared session.
func (f *File) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.mu.Lock()
			f.creds = session.Credentials{}
			f.user = nil
			f.mu.Unlock()
			return nil
		}
		return fmt.Errorf("store: read token file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("store: parse token file: %w", err)
	}

	f.mu.Lock()
	f.creds = session.Credentials{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}
	f.user = data.User
	f.mu.Unlock()
	return nil
}

// persist writes data to the token file under the cross-process lock,
// using a temp file and rename so readers never observe a partial write.
func (f *File) persist(data fileData) error {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			f.logger.Warn("release token file lock failed", "error", relErr)
		}
	}()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode token file: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("store: write temp token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: rename token file: %w", err)
	}
	return nil
}

// Save persists the credential pair and user snapshot together.
func (f *File) Save(creds session.Credentials, user *session.User) error {
	if err := f.persist(fileData{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		User:         user,
	}); err != nil {
		return err
	}

	f.mu.Lock()
	f.creds = creds
	f.user = user
	f.mu.Unlock()
	return nil
}

// SetAccessToken replaces only the access token, refusing to write into a
// store without an active session.
func (f *File) SetAccessToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creds.RefreshToken == "" {
		return fmt.Errorf("store: no active session")
	}
	creds := f.creds
	creds.AccessToken = token

	if err := f.persist(fileData{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		User:         f.user,
	}); err != nil {
		return err
	}
	f.creds = creds
	return nil
}

// AccessToken returns the stored access token, or "" if absent.
func (f *File) AccessToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.creds.AccessToken
}

// RefreshToken returns the stored refresh token, or "" if absent.
func (f *File) RefreshToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.creds.RefreshToken
}

// User returns the stored user snapshot, or nil if absent.
func (f *File) User() *session.User {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.user
}

// Clear removes the token file and empties the snapshot. Idempotent.
func (f *File) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove token file: %w", err)
	}

	f.mu.Lock()
	f.creds = session.Credentials{}
	f.user = nil
	f.mu.Unlock()
	return nil
}

// Valid reports whether the stored access token is usable, clearing the
// store when it is not.
func (f *File) Valid() bool {
	if session.TokenExpired(f.AccessToken(), time.Now()) {
		if err := f.Clear(); err != nil {
			f.logger.Warn("clear token file failed", "error", err)
		}
		return false
	}
	return true
}

// Close stops the file watcher.
func (f *File) Close() error {
	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}
