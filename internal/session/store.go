// Package session persists finished orchestration sessions. Each session is
// one JSON document named after its id inside a base directory.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/orchestrator"
)

// fileExt is the extension of session documents.
const fileExt = ".json"

// ErrSessionCorrupted is returned when a session document cannot be parsed.
var ErrSessionCorrupted = errors.New("session data corrupted")

// Summary is the listing view of a stored session.
type Summary struct {
	ID         string        `json:"id" yaml:"id"`
	Task       string        `json:"task" yaml:"task"`
	StatusCode int           `json:"status_code" yaml:"status_code"`
	Rounds     int           `json:"rounds" yaml:"rounds"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Store reads and writes session documents under a directory.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes res atomically, replacing any earlier document for its id.
func (s *Store) Save(_ context.Context, res *orchestrator.Result) error {
	if res == nil {
		return errors.NewValidationError("session result must not be nil")
	}
	if err := validateID(res.SessionID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteFile(s.path(res.SessionID), data, 0o644)
}

// Load reads the session with the given id.
func (s *Store) Load(_ context.Context, id string) (*orchestrator.Result, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(s.path(id), id)
}

// Delete removes the session with the given id.
func (s *Store) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("session", id)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns summaries of every readable session, newest first.
// Unreadable documents are skipped.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		res, err := s.read(filepath.Join(s.dir, name), id)
		if err != nil {
			continue
		}
		out = append(out, Summary{
			ID:         res.SessionID,
			Task:       res.Task,
			StatusCode: res.StatusCode,
			Rounds:     res.Rounds,
			StartedAt:  res.StartedAt,
			Duration:   res.Duration(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) read(path, id string) (*orchestrator.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("session", id)
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var res orchestrator.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupted, err)
	}
	if res.SessionID != id {
		return nil, fmt.Errorf("%w: session ID mismatch (file: %s, expected: %s)", ErrSessionCorrupted, res.SessionID, id)
	}
	return &res, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func validateID(id string) error {
	if id == "" {
		return errors.NewValidationError("session ID cannot be empty").WithField("id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return errors.NewValidationError("invalid session ID").WithField("id").WithValue(id)
	}
	return nil
}

// atomicWriteFile writes data to a file atomically by writing to a temporary
// file first, then renaming. This ensures the target file is never in a
// partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
