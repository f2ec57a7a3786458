package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON document per key in a directory. Writes go to a
// temporary file that is renamed over the old one, so a crash mid-write leaves
// the previous record intact.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create draft dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// path names the file exam_attempt_<student>_<exam>.json. Both ids are
// escaped so the separator cannot occur inside them and no two keys share
// a file.
func (s *FileStore) path(key Key) string {
	name := "exam_attempt_" + escapeID(key.StudentID) + "_" + escapeID(key.ExamID)
	return filepath.Join(s.dir, name+".json")
}

// escapeID keeps ASCII letters, digits and '-' and writes every other byte
// as %XX.
func escapeID(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Load reads the record for key.
func (s *FileStore) Load(_ context.Context, key Key) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key)
}

func (s *FileStore) read(key Key) (*Record, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

// Merge applies patch onto the stored record, creating it if absent.
// A corrupt record is replaced.
func (s *FileStore) Merge(_ context.Context, key Key, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(key)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		rec = &Record{}
	default:
		return err
	}

	patch.Apply(rec, s.now())

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	return s.writeAtomic(s.path(key), raw)
}

func (s *FileStore) writeAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".draft-*")
	if err != nil {
		return fmt.Errorf("create temp draft: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write draft: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync draft: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close draft: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace draft: %w", err)
	}
	return nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *FileStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
