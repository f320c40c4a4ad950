// Package report turns an analysis result into the document handed to the
// grader, as JSON or as localized text.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/i18n"
	"github.com/pavelanni/sheetaudit/internal/llm"
	"github.com/pavelanni/sheetaudit/internal/model"
	"github.com/pavelanni/sheetaudit/internal/signature"
)

// Report is the grader-facing summary of one analysis.
type Report struct {
	AnalysisID          string                `json:"analysis_id"`
	Filename            string                `json:"filename"`
	StudentID           string                `json:"student_id"`
	Timestamp           time.Time             `json:"timestamp"`
	Attempt             int                   `json:"attempt"`
	HasPrevious         bool                  `json:"has_previous"`
	SinceSeconds        float64               `json:"since_previous_s,omitempty"`
	Identity            analysis.Identity     `json:"identity"`
	Authenticity        model.Authenticity    `json:"authenticity"`
	AuthenticityMessage string                `json:"authenticity_message"`
	Signature           Signature             `json:"signature"`
	Counters            Counters              `json:"counters"`
	VsTemplate          []diff.TemplateChange `json:"vs_template"`
	VsPrevious          []diff.PreviousChange `json:"vs_previous"`
	Answers             []diff.Row            `json:"answers"`
	Timeline            []CellHistory         `json:"timeline"`
	Reviews             []Review              `json:"reviews,omitempty"`
	Persisted           bool                  `json:"persisted"`
}

// Signature summarizes the baseline check.
type Signature struct {
	Present bool              `json:"present"`
	Changed int               `json:"changed"`
	Issues  []signature.Issue `json:"issues,omitempty"`
	// Alerts are changed cells outside the question columns.
	Alerts []string `json:"alerts,omitempty"`
}

// Counters are the headline numbers of a report.
type Counters struct {
	ChangedVsTemplate int `json:"changed_vs_template"`
	ChangedVsPrevious int `json:"changed_vs_previous"`
	Answered          int `json:"answered"`
	Unanswered        int `json:"unanswered"`
	Identical         int `json:"identical"`
	Alerts            int `json:"alerts"`
}

// CellHistory is the value history of one cell across submissions.
type CellHistory struct {
	Cell   string          `json:"cell"`
	Points []history.Point `json:"points"`
}

// Review is a second opinion attached to an answer.
type Review struct {
	Cell       string `json:"cell"`
	Verdict    string `json:"verdict"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
}

// Build assembles the report of r.
func Build(r *analysis.Result) Report {
	counts := r.Diff.Count()
	rep := Report{
		AnalysisID:          r.AnalysisID,
		Filename:            r.Filename,
		StudentID:           r.StudentID,
		Timestamp:           r.Timestamp,
		Attempt:             r.Attempt,
		HasPrevious:         r.HasPrevious,
		Identity:            r.Identity,
		Authenticity:        r.Authenticity,
		AuthenticityMessage: r.AuthenticityMessage,
		Signature: Signature{
			Present: !r.Verification.Absent(),
			Changed: len(r.Verification.Changed),
			Alerts:  addressStrings(r.Diff.VsBaseline.Alerts),
		},
		Counters: Counters{
			ChangedVsTemplate: len(r.Diff.VsTemplate),
			ChangedVsPrevious: len(r.Diff.VsPrevious),
			Answered:          counts.Answered,
			Unanswered:        counts.Unanswered,
			Identical:         counts.Identical,
			Alerts:            r.Alerts(),
		},
		VsTemplate: r.Diff.VsTemplate,
		VsPrevious: r.Diff.VsPrevious,
		Answers:    r.Diff.Matrix,
		Persisted:  r.Persisted(),
	}
	if r.HasPrevious {
		rep.SinceSeconds = r.SincePrevious.Seconds()
	}
	if rep.Signature.Present {
		rep.Signature.Issues = r.Verification.Issues
	}
	for _, a := range r.Timeline.Addresses() {
		rep.Timeline = append(rep.Timeline, CellHistory{Cell: a, Points: r.Timeline[a]})
	}
	return rep
}

// AddReview attaches a second opinion to the report.
func (r *Report) AddReview(rv Review) { r.Reviews = append(r.Reviews, rv) }

// AttachOpinions adds the reviewer's opinions in order.
func (r *Report) AttachOpinions(ops []llm.CellOpinion) {
	for _, op := range ops {
		r.AddReview(Review{
			Cell:       op.Cell,
			Verdict:    op.Opinion.Verdict,
			Confidence: op.Opinion.Confidence,
			Rationale:  op.Opinion.Rationale,
		})
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteText writes the report in the language of the localizer carried by
// ctx. The timeline section lists only cells that changed.
func WriteText(ctx context.Context, w io.Writer, r Report) error {
	p := &printer{w: w}

	p.line(i18n.Td(ctx, "ReportTitle", map[string]any{"Filename": r.Filename}))
	p.line(i18n.Td(ctx, "ReportDate", map[string]any{"Date": r.Timestamp.Format("2006-01-02 15:04:05")}))
	p.line(i18n.Td(ctx, "ReportStudent", map[string]any{"StudentID": r.StudentID, "Attempt": r.Attempt}))
	if r.HasPrevious {
		d := time.Duration(r.SinceSeconds * float64(time.Second)).Round(time.Second)
		p.line(i18n.Td(ctx, "SincePrevious", map[string]any{"Duration": d.String()}))
	} else {
		p.line(i18n.T(ctx, "FirstSubmission"))
	}
	if !r.Persisted {
		p.line(i18n.T(ctx, "PersistWarning"))
	}

	p.heading(i18n.T(ctx, "AuthenticityHeader"))
	p.line(i18n.Td(ctx, "Auth_"+string(r.Authenticity), map[string]any{
		"DeclaredID": r.Identity.DeclaredID,
		"ExpectedID": r.Identity.ExpectedID,
	}))

	p.heading(i18n.T(ctx, "SignatureHeader"))
	if r.Signature.Present {
		p.line(i18n.Tp(ctx, "SignatureVerified", r.Signature.Changed))
		for _, is := range r.Signature.Issues {
			p.line("- " + i18n.T(ctx, "Issue_"+string(is.Code)))
		}
		if len(r.Signature.Alerts) > 0 {
			p.line(i18n.Td(ctx, "StructuralAlerts", map[string]any{"Cells": strings.Join(r.Signature.Alerts, ", ")}))
		}
	} else {
		p.line(i18n.T(ctx, "SignatureAbsent"))
	}

	p.heading(i18n.T(ctx, "CountersHeader"))
	p.line("- " + i18n.Tp(ctx, "ChangedVsTemplate", r.Counters.ChangedVsTemplate))
	if r.HasPrevious {
		p.line("- " + i18n.Tp(ctx, "ChangedVsPrevious", r.Counters.ChangedVsPrevious))
	}
	p.line("- " + i18n.Tp(ctx, "AnsweredCells", r.Counters.Answered))
	p.line("- " + i18n.Tp(ctx, "UnansweredCells", r.Counters.Unanswered))
	p.line("- " + i18n.Tp(ctx, "AlertCount", r.Counters.Alerts))

	p.heading(i18n.T(ctx, "SectionTemplate"))
	if len(r.VsTemplate) == 0 {
		p.line(i18n.T(ctx, "NoChanges"))
	}
	p.table(func(tw io.Writer) {
		for _, c := range r.VsTemplate {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Cell, clip(c.Template), clip(c.Student))
		}
	})

	if r.HasPrevious {
		p.heading(i18n.T(ctx, "SectionPrevious"))
		if len(r.VsPrevious) == 0 {
			p.line(i18n.T(ctx, "NoChanges"))
		}
		p.table(func(tw io.Writer) {
			for _, c := range r.VsPrevious {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Cell, i18n.T(ctx, "Action_"+string(c.Action)), clip(c.Prior), clip(c.Current))
			}
		})
	}

	p.heading(i18n.T(ctx, "SectionAnswers"))
	p.table(func(tw io.Writer) {
		for _, row := range r.Answers {
			if row.Status == diff.StatusUnanswered {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Cell, verdictLabel(ctx, row.Verdict), ruleLabel(ctx, row.Verdict.Rule), clip(row.Student))
		}
	})

	if len(r.Reviews) > 0 {
		p.heading(i18n.T(ctx, "SectionReviews"))
		for _, rv := range r.Reviews {
			p.line(fmt.Sprintf("%s: %s (%d%%) %s", rv.Cell, rv.Verdict, rv.Confidence, rv.Rationale))
		}
	}

	var changed []CellHistory
	for _, h := range r.Timeline {
		if len(h.Points) > 1 {
			changed = append(changed, h)
		}
	}
	if len(changed) > 0 {
		p.heading(i18n.T(ctx, "SectionTimeline"))
		for _, h := range changed {
			p.line(h.Cell)
			for _, pt := range h.Points {
				p.line(fmt.Sprintf("  %s  %s", pt.Timestamp.Format("2006-01-02 15:04:05"), clip(pt.Value)))
			}
		}
	}
	return p.err
}

func verdictLabel(ctx context.Context, v detect.Verdict) string {
	label := i18n.T(ctx, "Class_"+string(v.Class))
	if v.Suspicious() {
		return fmt.Sprintf("%s %d%%", label, v.Confidence)
	}
	return label
}

func ruleLabel(ctx context.Context, r detect.Rule) string {
	id := "Rule_" + string(r)
	if !i18n.Has(id) {
		return ""
	}
	return i18n.T(ctx, id)
}

const clipRunes = 60

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= clipRunes {
		return s
	}
	r := []rune(s)
	return string(r[:clipRunes-1]) + "…"
}

func addressStrings(as []grid.Address) []string {
	var out []string
	for _, a := range as {
		out = append(out, a.String())
	}
	return out
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *printer) heading(s string) {
	p.line("")
	p.line(s)
	p.line(strings.Repeat("=", utf8.RuneCountInString(s)))
}

func (p *printer) table(fill func(io.Writer)) {
	if p.err != nil {
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fill(tw)
	p.err = tw.Flush()
}
