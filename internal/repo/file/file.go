// Package file stores monitors and subscribers as JSON documents in a
// directory, one file per collection.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hamed0406/sitepulse/internal/domain"
	"github.com/hamed0406/sitepulse/internal/repo"
)

const (
	monitorsFile    = "monitors.json"
	subscribersFile = "subscribers.json"
)

var _ repo.Backend = (*Store)(nil)

type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) LoadMonitors(ctx context.Context) ([]domain.Monitor, error) {
	out := []domain.Monitor{}
	if err := s.read(monitorsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveMonitors(ctx context.Context, ms []domain.Monitor) error {
	if ms == nil {
		ms = []domain.Monitor{}
	}
	return s.write(monitorsFile, ms)
}

func (s *Store) LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	out := []domain.Subscriber{}
	if err := s.read(subscribersFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveSubscribers(ctx context.Context, subs []domain.Subscriber) error {
	if subs == nil {
		subs = []domain.Subscriber{}
	}
	return s.write(subscribersFile, subs)
}

func (s *Store) read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write replaces name atomically: readers see either the old or the new
// document, never a partial one.
func (s *Store) write(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
