// Package diff computes the per-cell comparisons of a submission against the
// professor's template, the student's previous submission and the signed
// baseline.
package diff

import (
	"sort"

	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/signature"
)

// Status is the state of an active cell relative to the template.
type Status string

const (
	StatusUnanswered Status = "unanswered"
	StatusIdentical  Status = "identical_to_template"
	StatusModified   Status = "modified"
)

// Action classifies a change between two versions of a cell.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// TemplateChange is a cell whose submitted value differs from the template.
type TemplateChange struct {
	Cell     grid.Address `json:"cell"`
	Question string       `json:"question"`
	Template string       `json:"template"`
	Student  string       `json:"student"`
}

// PreviousChange is a cell that changed since the student's previous submission.
type PreviousChange struct {
	Cell     grid.Address `json:"cell"`
	Question string       `json:"question"`
	Prior    string       `json:"prior"`
	Current  string       `json:"current"`
	Action   Action       `json:"action"`
}

// Baseline splits the cells changed since issuance. Expected changes lie in
// active columns; Alerts lie in columns that should never have been touched.
type Baseline struct {
	Verified bool              `json:"verified"`
	Expected []grid.Address    `json:"expected"`
	Alerts   []grid.Address    `json:"alerts"`
	Issues   []signature.Issue `json:"issues"`
}

// Row is one active cell of the full matrix.
type Row struct {
	Cell     grid.Address   `json:"cell"`
	Question string         `json:"question"`
	Template string         `json:"template"`
	Student  string         `json:"student"`
	Status   Status         `json:"status"`
	Verdict  detect.Verdict `json:"verdict"`
}

// Input gathers what the differ compares.
type Input struct {
	Questions  grid.Questions
	Template   grid.Grid
	Submission grid.Grid
	FirstRow   int
	LastRow    int
	// Previous is the snapshot of the student's last submission; nil when
	// this is the first one.
	Previous     grid.Snapshot
	Verification signature.Verification
}

// Result holds the three diffs, the full matrix and the submission snapshot.
type Result struct {
	VsTemplate  []TemplateChange `json:"vs_template"`
	HasPrevious bool             `json:"has_previous"`
	VsPrevious  []PreviousChange `json:"vs_previous"`
	VsBaseline  Baseline         `json:"vs_baseline"`
	Matrix      []Row            `json:"matrix"`
	Snapshot    grid.Snapshot    `json:"-"`
}

// Compute runs every comparison. Values are compared as strings; a
// whitespace-only value counts as empty.
func Compute(in Input) Result {
	var r Result
	r.Snapshot = grid.TakeSnapshot(in.Submission, in.Questions, in.FirstRow, in.LastRow)

	cols := in.Questions.Columns()
	for row := in.FirstRow; row <= in.LastRow; row++ {
		for _, col := range cols {
			at := grid.Address{Col: col, Row: row}
			tv := in.Template.Get(col, row)
			sv := in.Submission.Get(col, row)
			status := Classify(tv, sv)
			r.Matrix = append(r.Matrix, Row{
				Cell:     at,
				Question: in.Questions[col],
				Template: tv,
				Student:  sv,
				Status:   status,
			})
			if status == StatusModified {
				r.VsTemplate = append(r.VsTemplate, TemplateChange{
					Cell:     at,
					Question: in.Questions[col],
					Template: tv,
					Student:  sv,
				})
			}
		}
	}

	if in.Previous != nil {
		r.HasPrevious = true
		r.VsPrevious = VsPrevious(in.Previous, r.Snapshot, in.Questions)
	}
	r.VsBaseline = VsBaseline(in.Verification, in.Questions)
	return r
}

// Classify compares one submitted value with its template value.
func Classify(template, student string) Status {
	switch {
	case grid.IsBlank(student):
		return StatusUnanswered
	case template == student:
		return StatusIdentical
	default:
		return StatusModified
	}
}

// VsPrevious lists the cells whose value changed between two snapshots,
// ordered row-major. Addresses present in only one snapshot count as empty
// in the other.
func VsPrevious(prior, current grid.Snapshot, q grid.Questions) []PreviousChange {
	var out []PreviousChange
	for _, ref := range grid.SortedAddresses(prior, current) {
		before, after := prior[ref], current[ref]
		action, changed := compare(before, after)
		if !changed {
			continue
		}
		at, err := grid.ParseAddress(ref)
		if err != nil {
			continue
		}
		out = append(out, PreviousChange{
			Cell:     at,
			Question: q[at.Col],
			Prior:    before,
			Current:  after,
			Action:   action,
		})
	}
	return out
}

func compare(before, after string) (Action, bool) {
	bBlank, aBlank := grid.IsBlank(before), grid.IsBlank(after)
	switch {
	case bBlank && aBlank:
		return "", false
	case bBlank:
		return ActionAdd, true
	case aBlank:
		return ActionRemove, true
	case before != after:
		return ActionModify, true
	default:
		return "", false
	}
}

// VsBaseline splits the cells reported changed by signature verification by
// whether their column carries a question.
func VsBaseline(v signature.Verification, q grid.Questions) Baseline {
	b := Baseline{
		Verified: !v.Absent(),
		Issues:   v.Issues,
	}
	for _, at := range v.Changed {
		if q.Active(at.Col) {
			b.Expected = append(b.Expected, at)
		} else {
			b.Alerts = append(b.Alerts, at)
		}
	}
	sort.Slice(b.Alerts, func(i, j int) bool { return b.Alerts[i].Less(b.Alerts[j]) })
	return b
}

// Counts summarizes a matrix.
type Counts struct {
	Answered   int `json:"answered"`
	Unanswered int `json:"unanswered"`
	Identical  int `json:"identical"`
}

// Count tallies matrix rows by status.
func (r Result) Count() Counts {
	var c Counts
	for _, row := range r.Matrix {
		switch row.Status {
		case StatusModified:
			c.Answered++
		case StatusUnanswered:
			c.Unanswered++
		case StatusIdentical:
			c.Identical++
		}
	}
	return c
}
