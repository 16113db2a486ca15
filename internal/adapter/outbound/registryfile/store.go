// Package registryfile implements the Registry's registry.Store port as
// one JSON file per ServiceRecord under a configured directory
// (RegistryConfig.RecordsDir), using the same write-temp, fsync,
// rename, chmod 0600 atomic-write sequence as
// internal/adapter/outbound/state, applied per-record instead of to one
// monolithic state file: the Registry's unit of mutation is a single
// ServiceRecord, so each gets its own file and its own atomic write
// rather than forcing every update to rewrite the whole fleet.
package registryfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mcpgw/gateway/internal/domain/registry"
)

// Store persists ServiceRecords as individual JSON files in dir.
type Store struct {
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if necessary.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// filename derives a filesystem-safe name for a record's path. Path
// begins with "/" and may contain further slashes, so they are mapped
// to a safe separator to keep every record a flat file in dir.
func (s *Store) filename(servicePath string) string {
	trimmed := strings.TrimPrefix(servicePath, "/")
	escaped := strings.ReplaceAll(trimmed, "/", "__")
	return filepath.Join(s.dir, escaped+".json")
}

func (s *Store) List(ctx context.Context) ([]registry.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read records dir: %w", err)
	}

	records := make([]registry.ServiceRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable record file", "file", e.Name(), "error", err)
			continue
		}
		var r registry.ServiceRecord
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Warn("skipping malformed record file", "file", e.Name(), "error", err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, path string) (*registry.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(path)
}

func (s *Store) readLocked(path string) (*registry.ServiceRecord, error) {
	data, err := os.ReadFile(s.filename(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, registry.ErrServiceNotFound
		}
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	var r registry.ServiceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	return &r, nil
}

func (s *Store) Add(ctx context.Context, record *registry.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filename(record.Path)); err == nil {
		return registry.ErrDuplicatePath
	}
	return s.writeAtomic(record)
}

func (s *Store) Update(ctx context.Context, record *registry.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readLocked(record.Path); err != nil {
		return err
	}
	return s.writeAtomic(record)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.filename(path)
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return registry.ErrServiceNotFound
		}
		return fmt.Errorf("stat record %s: %w", path, err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("delete record %s: %w", path, err)
	}
	return nil
}

// writeAtomic marshals record and writes it via temp-file-then-rename,
// matching state.FileStateStore.Save's durability sequence.
func (s *Store) writeAtomic(record *registry.ServiceRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Path, err)
	}
	data = append(data, '\n')

	target := s.filename(record.Path)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp record file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsync temp record file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp record file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp record file: %w", err)
	}
	return nil
}
