package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyAuthState    = "auth-storage"
	KeyUserCache    = "user"
)

const stateVersion = 1

// Storage is durable key/value storage for session material.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

type persistedState struct {
	Version int        `json:"version"`
	State   savedState `json:"state"`
}

type savedState struct {
	User            *User `json:"user"`
	IsAuthenticated bool  `json:"isAuthenticated"`
}

func encodeState(s State) (string, error) {
	data, err := json.Marshal(persistedState{
		Version: stateVersion,
		State:   savedState{User: s.User, IsAuthenticated: s.IsAuthenticated},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeState ignores blobs written by other versions.
func decodeState(raw string) (State, bool) {
	var p persistedState
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Version != stateVersion {
		return State{}, false
	}
	return State{User: p.State.User, IsAuthenticated: p.State.IsAuthenticated}, true
}

type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// FileStorage keeps all keys in a single JSON file readable only by the owner.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

const sessionFileName = "session.json"

func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		return nil, errors.New("session: state directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: create state dir: %w", err)
	}
	return &FileStorage{path: filepath.Join(dir, sessionFileName)}, nil
}

func (s *FileStorage) Path() string {
	return s.path
}

func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *FileStorage) load() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStorage) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("session: replace %s: %w", s.path, err)
	}
	return nil
}
