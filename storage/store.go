// Package storage keeps small string key/value pairs across restarts. It
// holds provisioning and diagnostic data only and is never touched from the
// audio path.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrKeyNotFound = errors.New("key not found")

// Store defines the key/value operations the device needs.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// fileData is the YAML layout of the store file.
type fileData struct {
	Version   int               `yaml:"version"`
	Namespace string            `yaml:"namespace"`
	Values    map[string]string `yaml:"values"`
}

const currentVersion = 1

// FileStore persists one namespace in a YAML file. Every Put rewrites the
// file through a temporary file and a rename.
type FileStore struct {
	path      string
	namespace string
	values    map[string]string
	mu        sync.RWMutex
}

// OpenFileStore loads path if it exists; otherwise the file is created on
// the first write.
func OpenFileStore(path, namespace string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		namespace: namespace,
		values:    make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory: %w", err)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}
	defer f.Close()

	var data fileData
	if err := yaml.NewDecoder(f).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("storage: decode %q: %w", path, err)
	}
	if data.Namespace != "" && namespace != "" && data.Namespace != namespace {
		return nil, fmt.Errorf("storage: %q holds namespace %q, want %q", path, data.Namespace, namespace)
	}
	for k, v := range data.Values {
		s.values[k] = v
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (s *FileStore) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if existed {
			s.values[key] = old
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.values[key]
	if !ok {
		return nil
	}
	delete(s.values, key)
	if err := s.save(); err != nil {
		s.values[key] = old
		return err
	}
	return nil
}

// save writes the store to disk. The caller holds mu.
func (s *FileStore) save() error {
	out, err := yaml.Marshal(fileData{
		Version:   currentVersion,
		Namespace: s.namespace,
		Values:    s.values,
	})
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0o600); err != nil {
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: rename temp file: %w", err)
	}
	return nil
}

// MemoryStore is a Store that forgets everything on restart.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (m *MemoryStore) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Increment treats key as a decimal counter, adds one and returns the new
// value. A missing or unparsable value counts from zero.
func Increment(s Store, key string) (int64, error) {
	var n int64
	if v, err := s.Get(key); err == nil {
		n, _ = strconv.ParseInt(v, 10, 64)
	} else if !errors.Is(err, ErrKeyNotFound) {
		return 0, err
	}
	n++
	if err := s.Put(key, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	return n, nil
}
