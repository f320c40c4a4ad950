package audit

import (
	"time"

	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

// Meta carries the submission-level fields copied onto every record.
type Meta struct {
	AnalysisID     string
	Timestamp      time.Time
	SincePrevious  time.Duration
	HasPrevious    bool
	Filename       string
	StudentID      string
	DeclaredHash   string
	RecomputedHash string
	Attempt        int
}

// Input gathers the diffs and documents a submission's records derive from.
type Input struct {
	Meta       Meta
	Questions  grid.Questions
	Template   grid.Grid
	Submission grid.Grid
	Diff       diff.Result
	ClientLog  []workbook.EditEvent
}

// Build returns one record per change from each source, in the order
// baseline, template, previous submission, client log. Each record carries
// the verdict of its cell's current value.
func Build(in Input) []Record {
	verdicts := make(map[grid.Address]detect.Verdict, len(in.Diff.Matrix))
	for _, row := range in.Diff.Matrix {
		verdicts[row.Cell] = row.Verdict
	}
	b := builder{in: in, verdicts: verdicts}

	base := in.Diff.VsBaseline
	for _, at := range append(append([]grid.Address(nil), base.Expected...), base.Alerts...) {
		b.baseline(at)
	}
	for _, c := range in.Diff.VsTemplate {
		r := b.record(c.Cell, SourceTemplate, diff.ActionModify)
		r.Template, r.Student = c.Template, c.Student
		if grid.IsBlank(c.Template) {
			r.Action = diff.ActionAdd
		}
		b.out = append(b.out, r)
	}
	for _, c := range in.Diff.VsPrevious {
		r := b.record(c.Cell, SourcePrevious, c.Action)
		r.Prior, r.Student = c.Prior, c.Current
		r.Template = in.Template.Get(c.Cell.Col, c.Cell.Row)
		b.out = append(b.out, r)
	}
	for _, ev := range in.ClientLog {
		b.clientEvent(ev)
	}
	return b.out
}

type builder struct {
	in       Input
	verdicts map[grid.Address]detect.Verdict
	out      []Record
}

func (b *builder) record(at grid.Address, src Source, action diff.Action) Record {
	m := b.in.Meta
	return Record{
		Timestamp:      m.Timestamp,
		SincePrevious:  m.SincePrevious,
		HasPrevious:    m.HasPrevious,
		AnalysisID:     m.AnalysisID,
		Filename:       m.Filename,
		StudentID:      m.StudentID,
		Cell:           at,
		Question:       b.in.Questions[at.Col],
		Source:         src,
		Action:         action,
		Verdict:        b.verdicts[at],
		DeclaredHash:   m.DeclaredHash,
		RecomputedHash: m.RecomputedHash,
		Attempt:        m.Attempt,
	}
}

// baseline records a cell changed since issuance. The issued copy carried
// the template value, which stands in as the prior value.
func (b *builder) baseline(at grid.Address) {
	tv := b.in.Template.Get(at.Col, at.Row)
	sv := b.in.Submission.Get(at.Col, at.Row)
	action := diff.ActionModify
	switch {
	case grid.IsBlank(sv):
		action = diff.ActionRemove
	case grid.IsBlank(tv):
		action = diff.ActionAdd
	}
	r := b.record(at, SourceBaseline, action)
	r.Prior, r.Template, r.Student = tv, tv, sv
	b.out = append(b.out, r)
}

func (b *builder) clientEvent(ev workbook.EditEvent) {
	var action diff.Action
	oldBlank, newBlank := grid.IsBlank(ev.Old), grid.IsBlank(ev.New)
	switch {
	case oldBlank && newBlank:
		return
	case oldBlank:
		action = diff.ActionAdd
	case newBlank:
		action = diff.ActionRemove
	case ev.Old == ev.New:
		return
	default:
		action = diff.ActionModify
	}
	r := b.record(ev.Cell, SourceClientLog, action)
	if !ev.Timestamp.IsZero() {
		r.Timestamp = ev.Timestamp
	}
	r.Prior, r.Student = ev.Old, ev.New
	r.Template = b.in.Template.Get(ev.Cell.Col, ev.Cell.Row)
	b.out = append(b.out, r)
}
