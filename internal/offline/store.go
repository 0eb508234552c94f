package offline

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry is one cached resource: opaque payload bytes tagged with the content
// version current at the time it was stored.
type Entry struct {
	Version string `json:"version"`
	Payload []byte `json:"payload"`
}

// Store is a keyed (resourceKey) -> (version, payload) store. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(key string) (Entry, bool, error)
	Put(key string, e Entry) error
	Delete(key string) error
	Keys() ([]string, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Put(key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// FileStore persists entries as one JSON document per key under a directory,
// so cached content survives process restarts. Writes go through a temp file
// and rename, so a crash never leaves a torn entry.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// encodeKey maps arbitrary resource keys (routes, URLs) to safe file names.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + ".json"
}

func decodeKey(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".json")
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (s *FileStore) Get(key string) (Entry, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, encodeKey(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("read entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt entry: treat as a miss rather than poisoning every lookup.
		_ = os.Remove(filepath.Join(s.dir, encodeKey(key)))
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *FileStore) Put(key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	final := filepath.Join(s.dir, encodeKey(key))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, encodeKey(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	var keys []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		if k, ok := decodeKey(ent.Name()); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
