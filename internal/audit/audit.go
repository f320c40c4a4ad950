// Package audit flattens every detected change into append-only ledger
// records.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
)

// Source names the comparison that produced a record.
type Source string

const (
	SourceBaseline  Source = "BASELINE-SIGNATURE"
	SourceTemplate  Source = "TEMPLATE"
	SourcePrevious  Source = "PREVIOUS-SUBMISSION"
	SourceClientLog Source = "EMBEDDED-CLIENT-LOG"
)

// Record is one detected change. Records are never updated.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	// SincePrevious is only meaningful when HasPrevious is set.
	SincePrevious  time.Duration  `json:"since_previous"`
	HasPrevious    bool           `json:"has_previous"`
	AnalysisID     string         `json:"analysis_id"`
	Filename       string         `json:"filename"`
	StudentID      string         `json:"student_id"`
	Cell           grid.Address   `json:"cell"`
	Question       string         `json:"question"`
	Prior          string         `json:"prior"`
	Template       string         `json:"template"`
	Student        string         `json:"student"`
	Source         Source         `json:"source"`
	Action         diff.Action    `json:"action"`
	Verdict        detect.Verdict `json:"verdict"`
	DeclaredHash   string         `json:"declared_hash"`
	RecomputedHash string         `json:"recomputed_hash"`
	Attempt        int            `json:"attempt"`
}

// Ledger is an append-only record sink.
type Ledger interface {
	Append(ctx context.Context, records ...Record) error
}

// Tee appends to every ledger in turn; a failing ledger does not keep the
// others from receiving the records.
type Tee []Ledger

// Append implements Ledger.
func (t Tee) Append(ctx context.Context, records ...Record) error {
	var errs []error
	for _, l := range t {
		if err := l.Append(ctx, records...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops records.
type Discard struct{}

// Append implements Ledger.
func (Discard) Append(context.Context, ...Record) error { return nil }
