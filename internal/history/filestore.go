package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON array of entries per student in a directory.
// Appends rewrite the file through a temporary file and a rename, so a
// reader never sees a partial history.
type FileStore struct {
	dir   string
	locks KeyedMutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(studentID string) (string, error) {
	id := strings.TrimSpace(studentID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStudent, studentID)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Append adds e at the end of the student's history.
func (s *FileStore) Append(ctx context.Context, studentID string, e Entry) error {
	p, err := s.path(studentID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(p)
	defer unlock()

	entries, err := readEntries(p)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

// Load returns the student's entries in append order; a student with no
// history yields an empty slice.
func (s *FileStore) Load(ctx context.Context, studentID string) ([]Entry, error) {
	p, err := s.path(studentID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(p)
	defer unlock()
	return readEntries(p)
}

// Purge deletes the student's history file.
func (s *FileStore) Purge(ctx context.Context, studentID string) (bool, error) {
	p, err := s.path(studentID)
	if err != nil {
		return false, err
	}
	unlock := s.locks.Lock(p)
	defer unlock()
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove history: %w", err)
	}
	return true, nil
}

// Students lists the stored histories ordered by student id. Unreadable
// files are listed with a zero count.
func (s *FileStore) Students(ctx context.Context) ([]Summary, error) {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	var out []Summary
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		sum := Summary{StudentID: strings.TrimSuffix(name, filepath.Ext(name))}
		if entries, err := readEntries(filepath.Join(s.dir, name)); err == nil && len(entries) > 0 {
			sum.Count = len(entries)
			sum.Last = entries[len(entries)-1].Timestamp
		}
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}

func readEntries(p string) ([]Entry, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", filepath.Base(p), err)
	}
	return entries, nil
}
