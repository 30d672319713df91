package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileState struct {
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps the digest in a small JSON file. Saves write a temp file
// and rename it over the target, so a crash never leaves a partial value.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the digest file. A missing file reports false, not an error.
func (s *FileStore) Load(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read digest file: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", false, fmt.Errorf("decode digest file: %w", err)
	}
	if st.Digest == "" {
		return "", false, nil
	}
	return st.Digest, true, nil
}

// Save atomically replaces the digest file.
func (s *FileStore) Save(_ context.Context, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(fileState{Digest: digest, UpdatedAt: time.Now().UTC()}, "", " ")
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create digest temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write digest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close digest temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace digest file: %w", err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error { return nil }
