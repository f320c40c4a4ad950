package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Header is the fixed column order of the CSV ledger.
var Header = []string{
	"timestamp", "since_previous_s", "analysis_id", "filename", "student_id",
	"cell", "question", "prior_value", "template_value", "student_value",
	"source", "action", "verdict", "confidence", "reason",
	"declared_hash", "recomputed_hash", "attempt",
}

// CSVLedger appends records to a CSV file, writing the header when the
// file is created. Appends from one process are serialized.
type CSVLedger struct {
	mu   sync.Mutex
	path string
}

// NewCSVLedger returns a ledger for path. The file and its directory are
// created on first append.
func NewCSVLedger(path string) *CSVLedger {
	return &CSVLedger{path: path}
}

// Path returns the ledger file path.
func (l *CSVLedger) Path() string { return l.path }

// Append implements Ledger.
func (l *CSVLedger) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat ledger: %w", err)
	}
	if err := WriteCSV(f, info.Size() == 0, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// WriteCSV encodes records, preceded by Header when header is set.
func WriteCSV(w io.Writer, header bool, records []Record) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write ledger row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return nil
}

func row(r Record) []string {
	since := ""
	if r.HasPrevious {
		since = strconv.FormatFloat(r.SincePrevious.Seconds(), 'f', 0, 64)
	}
	return []string{
		r.Timestamp.Format(time.RFC3339),
		since,
		r.AnalysisID,
		r.Filename,
		r.StudentID,
		r.Cell.String(),
		r.Question,
		r.Prior,
		r.Template,
		r.Student,
		string(r.Source),
		string(r.Action),
		string(r.Verdict.Class),
		strconv.Itoa(r.Verdict.Confidence),
		r.Verdict.Reason,
		r.DeclaredHash,
		r.RecomputedHash,
		strconv.Itoa(r.Attempt),
	}
}
