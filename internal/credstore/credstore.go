// Package credstore persists the OAuth token set between process runs. A
// token set is either stored in full or not at all: a file holding only some
// of its fields reads back as absent.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// TokenSet is the credential triple issued by the authorization server.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Complete reports whether every field is present.
func (t *TokenSet) Complete() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != "" && !t.ExpiresAt.IsZero()
}

// Store loads, saves and clears the current TokenSet. Load returns
// (nil, nil) when nothing usable is stored.
type Store interface {
	Load() (*TokenSet, error)
	Save(ts *TokenSet) error
	Clear() error
}

// ErrIncomplete is returned by Save when asked to persist a partial set.
var ErrIncomplete = errors.New("credstore: token set is incomplete")

// file is the on-disk format. Meta caches account details (channel title,
// channel id) fetched after login so status output needs no network call.
type file struct {
	Token *TokenSet         `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// FileStore keeps the TokenSet in a JSON file written atomically with 0600
// permissions. Never logs token values.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the token file. Returns (nil, nil) if the file does not exist or
// holds an incomplete set.
func (s *FileStore) Load() (*TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil || f == nil {
		return nil, err
	}

	if !f.Token.Complete() {
		return nil, nil //nolint:nilnil // partial set reads as absent
	}

	ts := *f.Token

	return &ts, nil
}

// Save replaces the stored TokenSet, keeping any cached metadata.
func (s *FileStore) Save(ts *TokenSet) error {
	if !ts.Complete() {
		return ErrIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var meta map[string]string

	// Unreadable metadata is dropped rather than blocking a token save.
	if existing, err := s.read(); err == nil && existing != nil {
		meta = existing.Meta
	}

	return s.write(&file{Token: ts, Meta: meta})
}

// Clear removes the token file. Clearing an absent file succeeds.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: removing %s: %w", s.path, err)
	}

	return nil
}

// Meta returns the cached account metadata, or nil when there is none.
func (s *FileStore) Meta() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil || f == nil {
		return nil, err
	}

	return f.Meta, nil
}

// MergeMeta merges keys into the cached metadata (new keys overwrite
// existing). Fails when no token is stored.
func (s *FileStore) MergeMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}

	if f == nil || !f.Token.Complete() {
		return fmt.Errorf("credstore: no token stored at %s", s.path)
	}

	if f.Meta == nil {
		f.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(f.Meta, meta)

	return s.write(f)
}

func (s *FileStore) read() (*file, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", s.path, err)
	}

	return &f, nil
}

// write stores f atomically: temp file in the same directory, fsync, rename.
func (s *FileStore) write(f *file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	// A power loss between close and rename must not leave a truncated file.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu sync.Mutex
	ts *TokenSet
}

// NewMemoryStore returns a MemoryStore seeded with ts, which may be nil.
func NewMemoryStore(ts *TokenSet) *MemoryStore {
	m := &MemoryStore{}
	if ts.Complete() {
		cp := *ts
		m.ts = &cp
	}

	return m
}

func (m *MemoryStore) Load() (*TokenSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ts == nil {
		return nil, nil //nolint:nilnil // absent
	}

	cp := *m.ts

	return &cp, nil
}

func (m *MemoryStore) Save(ts *TokenSet) error {
	if !ts.Complete() {
		return ErrIncomplete
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ts
	m.ts = &cp

	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ts = nil

	return nil
}
