package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/signature"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

var now = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func addr(s string) grid.Address { return grid.MustParseAddress(s) }

type key struct {
	Cell   string
	Source Source
	Action diff.Action
}

func keys(recs []Record) []key {
	out := make([]key, len(recs))
	for i, r := range recs {
		out[i] = key{r.Cell.String(), r.Source, r.Action}
	}
	return out
}

func testInput() Input {
	q := grid.Questions{3: "Q1", 4: "Q2"}
	tmpl := grid.Map{addr("C2"): "42"}
	sub := grid.Map{addr("C2"): "43", addr("D2"): "new text", addr("E2"): "intruder", addr("D3"): "alpha"}
	res := diff.Compute(diff.Input{
		Questions:  q,
		Template:   tmpl,
		Submission: sub,
		FirstRow:   2,
		LastRow:    3,
		Previous:   grid.Snapshot{"C2": "43", "D2": "old text", "C3": "", "D3": ""},
		Verification: signature.Verification{
			Changed: []grid.Address{addr("C2"), addr("D2"), addr("E2")},
		},
	})
	for i := range res.Matrix {
		res.Matrix[i].Verdict = detect.Verdict{Class: detect.ClassNormal, Rule: detect.RuleNone}
	}
	return Input{
		Meta: Meta{
			AnalysisID:     "run-1",
			Timestamp:      now,
			SincePrevious:  90 * time.Second,
			HasPrevious:    true,
			Filename:       "tp__S100_x.xlsx",
			StudentID:      "S100",
			DeclaredHash:   "dh",
			RecomputedHash: "rh",
			Attempt:        2,
		},
		Questions:  q,
		Template:   tmpl,
		Submission: sub,
		Diff:       res,
		ClientLog: []workbook.EditEvent{
			{Timestamp: now.Add(-time.Minute), Cell: addr("D3"), Old: "", New: "alpha"},
			{Cell: addr("D3"), Old: "alpha", New: "alpha"},
		},
	}
}

func TestBuildCoversEverySource(t *testing.T) {
	recs := Build(testInput())
	want := []key{
		{"C2", SourceBaseline, diff.ActionModify},
		{"D2", SourceBaseline, diff.ActionAdd},
		{"E2", SourceBaseline, diff.ActionAdd},
		{"C2", SourceTemplate, diff.ActionModify},
		{"D2", SourceTemplate, diff.ActionAdd},
		{"D3", SourceTemplate, diff.ActionAdd},
		{"D2", SourcePrevious, diff.ActionModify},
		{"D3", SourcePrevious, diff.ActionAdd},
		{"D3", SourceClientLog, diff.ActionAdd},
	}
	if d := cmp.Diff(want, keys(recs)); d != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", d)
	}

	for _, r := range recs {
		if r.StudentID != "S100" || r.Attempt != 2 || r.DeclaredHash != "dh" || r.RecomputedHash != "rh" {
			t.Errorf("%s/%s: meta not copied: %+v", r.Cell, r.Source, r)
		}
	}
	prev := recs[6]
	if prev.Prior != "old text" || prev.Student != "new text" || prev.Question != "Q2" {
		t.Errorf("previous record = %+v", prev)
	}
	if recs[0].Verdict.Class != detect.ClassNormal {
		t.Errorf("active cell record lacks its verdict: %+v", recs[0].Verdict)
	}
	if recs[2].Verdict.Class != "" || recs[2].Question != "" {
		t.Errorf("inactive cell must carry no question or verdict: %+v", recs[2])
	}
	if !recs[8].Timestamp.Equal(now.Add(-time.Minute)) {
		t.Errorf("client log record should keep the event time, got %v", recs[8].Timestamp)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	return rows
}

func TestCSVLedgerWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.csv")
	l := NewCSVLedger(path)
	recs := Build(testInput())
	ctx := context.Background()
	if err := l.Append(ctx, recs[:2]...); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, recs[2:]...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != len(recs)+1 {
		t.Fatalf("got %d rows, want %d", len(rows), len(recs)+1)
	}
	if d := cmp.Diff(Header, rows[0]); d != "" {
		t.Errorf("header mismatch (-want +got):\n%s", d)
	}
	first := rows[1]
	if first[0] != "2025-03-10T14:00:00Z" || first[1] != "90" || first[5] != "C2" || first[10] != string(SourceBaseline) {
		t.Errorf("first row = %q", first)
	}
}

func TestCSVLedgerConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")
	l := NewCSVLedger(path)
	rec := Build(testInput())[0]
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Append(context.Background(), rec, rec); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()
	if rows := readCSV(t, path); len(rows) != 33 {
		t.Errorf("got %d rows, want 33", len(rows))
	}
}

type failing struct{}

func (failing) Append(context.Context, ...Record) error { return errors.New("disk full") }

type memLedger struct{ recs []Record }

func (m *memLedger) Append(_ context.Context, r ...Record) error {
	m.recs = append(m.recs, r...)
	return nil
}

func TestTeeKeepsGoingAfterFailure(t *testing.T) {
	mem := &memLedger{}
	err := Tee{failing{}, mem, Discard{}}.Append(context.Background(), Record{StudentID: "S1"})
	if err == nil {
		t.Error("expected the failure to be reported")
	}
	if len(mem.recs) != 1 {
		t.Errorf("second ledger got %d records, want 1", len(mem.recs))
	}
}
