package contenthash

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// Record is one issued copy as written to the issued-copy CSV.
type Record struct {
	StudentID string
	LastName  string
	FirstName string
	Hash      string
	Filename  string
}

// Registry maps student id to the set of hashes officially issued for that
// student. A Registry is never mutated after construction.
type Registry struct {
	byID map[string]map[string]struct{}
}

// NewRegistry builds a registry from records; records missing an id or a hash
// are ignored.
func NewRegistry(records ...Record) *Registry {
	r := &Registry{byID: make(map[string]map[string]struct{})}
	for _, rec := range records {
		id, h := strings.TrimSpace(rec.StudentID), strings.TrimSpace(rec.Hash)
		if id == "" || h == "" {
			continue
		}
		set, ok := r.byID[id]
		if !ok {
			set = make(map[string]struct{})
			r.byID[id] = set
		}
		set[h] = struct{}{}
	}
	return r
}

// Merge returns the union of r and others as a new registry.
func (r *Registry) Merge(others ...*Registry) *Registry {
	out := &Registry{byID: make(map[string]map[string]struct{})}
	for _, src := range append([]*Registry{r}, others...) {
		if src == nil {
			continue
		}
		for id, set := range src.byID {
			dst, ok := out.byID[id]
			if !ok {
				dst = make(map[string]struct{}, len(set))
				out.byID[id] = dst
			}
			for h := range set {
				dst[h] = struct{}{}
			}
		}
	}
	return out
}

// Official reports whether hash was issued for studentID.
func (r *Registry) Official(studentID, hash string) bool {
	if r == nil || studentID == "" || hash == "" {
		return false
	}
	_, ok := r.byID[studentID][hash]
	return ok
}

// Hashes returns the sorted hashes issued for studentID.
func (r *Registry) Hashes(studentID string) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byID[studentID]))
	for h := range r.byID[studentID] {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of students with at least one issued hash.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}

// Holder publishes the current registry to concurrent readers. Refreshing
// swaps the whole registry.
type Holder struct {
	p atomic.Pointer[Registry]
}

// NewHolder returns a holder publishing r.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.Store(r)
	return h
}

// Load returns the current registry.
func (h *Holder) Load() *Registry {
	if r := h.p.Load(); r != nil {
		return r
	}
	return NewRegistry()
}

// Store replaces the current registry.
func (h *Holder) Store(r *Registry) {
	h.p.Store(r)
}

var csvHeader = []string{"student_id", "last_name", "first_name", "hash", "filename"}

// Column aliases accepted when reading issued-copy CSV files.
var columnAliases = map[string]string{
	"student_id":  "student_id",
	"id_etudiant": "student_id",
	"id":          "student_id",
	"last_name":   "last_name",
	"nom":         "last_name",
	"first_name":  "first_name",
	"prenom":      "first_name",
	"hash":        "hash",
	"filename":    "filename",
	"nom_fichier": "filename",
}

// ReadRecords parses an issued-copy CSV. The header row selects columns by
// name; English and French column names are accepted.
func ReadRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canon, ok := columnAliases[key]; ok {
			idx[canon] = i
		}
	}
	if _, ok := idx["student_id"]; !ok {
		return nil, fmt.Errorf("missing student id column")
	}
	if _, ok := idx["hash"]; !ok {
		return nil, fmt.Errorf("missing hash column")
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read row: %w", err)
		}
		rec := Record{
			StudentID: field(row, "student_id"),
			LastName:  field(row, "last_name"),
			FirstName: field(row, "first_name"),
			Hash:      field(row, "hash"),
			Filename:  field(row, "filename"),
		}
		if rec.StudentID == "" || rec.Hash == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteRecords writes records as an issued-copy CSV with a header row.
func WriteRecords(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write([]string{r.StudentID, r.LastName, r.FirstName, r.Hash, r.Filename}); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadFiles reads every issued-copy CSV matching the glob patterns and returns
// the union registry. Missing files are skipped; unreadable files are
// reported together with the registry built from the rest.
func LoadFiles(patterns ...string) (*Registry, error) {
	var all []Record
	var errs []error
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("glob %q: %w", pattern, err))
			continue
		}
		for _, path := range matches {
			recs, err := readFile(path)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
			all = append(all, recs...)
		}
	}
	return NewRegistry(all...), errors.Join(errs...)
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecords(f)
}
