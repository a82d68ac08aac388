package docview

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// DocumentKey identifies a document by the SHA-256 of its URI.
func DocumentKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

type stateFile struct {
	Pages map[string]int `toml:"pages"`
}

// State remembers the last viewed page of every document. It is read
// once and written back with Save.
type State struct {
	path string

	mu    sync.Mutex
	pages map[string]int
	dirty bool
}

// stateLocks serialises writers of the same state file within the process.
var stateLocks = newPathLocker()

// LoadState reads the state file at path. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	s := &State{path: path, pages: make(map[string]int)}
	var f stateFile
	_, err := toml.DecodeFile(path, &f)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}
	for k, v := range f.Pages {
		s.pages[k] = v
	}
	return s, nil
}

func stateKey(uri string) string { return "page" + DocumentKey(uri) }

// LastPage returns the remembered page of uri.
func (s *State) LastPage(uri string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.pages[stateKey(uri)]
	return n, ok
}

func (s *State) SetLastPage(uri string, page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey(uri)
	if old, ok := s.pages[k]; ok && old == page {
		return
	}
	s.pages[k] = page
	s.dirty = true
}

// Save writes the state if it changed since it was loaded or last saved.
// The file is replaced atomically.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.path == "" {
		return nil
	}

	stateLocks.Lock(s.path)
	defer stateLocks.Unlock(s.path)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".docview-state-*.toml")
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(stateFile{Pages: s.pages}); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	s.dirty = false
	return nil
}

// pathLocker provides per-path mutual exclusion. Entries are dropped once
// no goroutine holds or waits for them.
type pathLocker struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocker() *pathLocker {
	return &pathLocker{locks: make(map[string]*pathLock)}
}

func (pl *pathLocker) Lock(path string) {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	if !ok {
		l = &pathLock{}
		pl.locks[path] = l
	}
	l.refs++
	pl.mu.Unlock()
	l.mu.Lock()
}

func (pl *pathLocker) Unlock(path string) {
	pl.mu.Lock()
	l, ok := pl.locks[path]
	if !ok {
		pl.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(pl.locks, path)
	}
	pl.mu.Unlock()
	l.mu.Unlock()
}
