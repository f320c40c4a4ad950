// Package analysis runs a submitted document through verification,
// authenticity checks, diffing and detection, then records the outcome in
// the history store and the audit ledger.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/model"
	"github.com/pavelanni/sheetaudit/internal/signature"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

// Config locates the answers and the reserved identity cells.
type Config struct {
	Layout       grid.Layout
	IDCell       grid.Address
	HashCell     grid.Address
	EditLogSheet string
}

// DefaultConfig matches the issued workbook: id in Z1, hash in Z2.
func DefaultConfig() Config {
	return Config{
		Layout:       grid.DefaultLayout(),
		IDCell:       grid.Address{Col: 26, Row: 1},
		HashCell:     grid.Address{Col: 26, Row: 2},
		EditLogSheet: workbook.EditLogSheet,
	}
}

// Observer is notified of every finished or failed analysis.
type Observer interface {
	ObserveResult(r *Result)
	ObserveFailure(err error)
}

// Deps are the analyzer's collaborators. Nil fields get harmless defaults:
// no signature check, an empty registry, a detector without corpora, an
// in-memory history and a discarding ledger.
type Deps struct {
	Signer   *signature.Signer
	Registry *contenthash.Holder
	Detector *detect.Detector
	History  history.Store
	Ledger   audit.Ledger
	Observer Observer
	Logger   *slog.Logger
}

// Analyzer is safe for concurrent use. Analyses of the same student are
// serialized from history load to history append.
type Analyzer struct {
	cfg    Config
	deps   Deps
	hasher contenthash.Hasher
	locks  history.KeyedMutex
	now    func() time.Time
	newID  func() string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock overrides the analysis timestamp source.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// WithIDs overrides the analysis id generator.
func WithIDs(next func() string) Option { return func(a *Analyzer) { a.newID = next } }

func New(cfg Config, deps Deps, opts ...Option) *Analyzer {
	if deps.Registry == nil {
		deps.Registry = contenthash.NewHolder(nil)
	}
	if deps.Detector == nil {
		deps.Detector = detect.New(detect.DefaultConfig())
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore()
	}
	if deps.Ledger == nil {
		deps.Ledger = audit.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &Analyzer{
		cfg:    cfg,
		deps:   deps,
		hasher: contenthash.NewHasher(cfg.HashCell),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Result is everything learned from one submission.
type Result struct {
	AnalysisID string    `json:"analysis_id"`
	Timestamp  time.Time `json:"timestamp"`
	Filename   string    `json:"filename"`
	// StudentID keys the history: the declared id, else the id from the
	// filename.
	StudentID           string                 `json:"student_id"`
	Identity            Identity               `json:"identity"`
	Authenticity        model.Authenticity     `json:"authenticity"`
	AuthenticityMessage string                 `json:"authenticity_message"`
	Verification        signature.Verification `json:"verification"`
	Questions           grid.Questions         `json:"questions"`
	Diff                diff.Result            `json:"diff"`
	Attempt             int                    `json:"attempt"`
	HasPrevious         bool                   `json:"has_previous"`
	SincePrevious       time.Duration          `json:"since_previous"`
	Timeline            history.Timeline       `json:"timeline"`
	ClientLog           []workbook.EditEvent   `json:"client_log,omitempty"`
	Records             []audit.Record         `json:"records"`
	// PersistErrors lists history or ledger writes that failed. The result
	// is complete regardless.
	PersistErrors []error `json:"-"`
}

// Persisted reports whether every write succeeded.
func (r *Result) Persisted() bool { return len(r.PersistErrors) == 0 }

// Alerts counts the matrix cells with a suspicious verdict.
func (r *Result) Alerts() int {
	n := 0
	for _, row := range r.Diff.Matrix {
		if row.Verdict.Suspicious() {
			n++
		}
	}
	return n
}

// Analyze processes one submission against tmpl. It fails only when the
// document or the template cannot be read; nothing is persisted then.
func (a *Analyzer) Analyze(ctx context.Context, sub Submission, tmpl *Template) (*Result, error) {
	res, err := a.analyze(ctx, sub, tmpl)
	if err != nil {
		if a.deps.Observer != nil {
			a.deps.Observer.ObserveFailure(err)
		}
		return nil, err
	}
	if a.deps.Observer != nil {
		a.deps.Observer.ObserveResult(res)
	}
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, sub Submission, tmpl *Template) (*Result, error) {
	if tmpl == nil || len(tmpl.Questions) == 0 {
		return nil, ErrUnreadableTemplate
	}
	doc := sub.Doc
	if doc == nil || doc.MainSheet() == "" || !doc.HasSheet(doc.MainSheet()) {
		return nil, fmt.Errorf("%w: %s", ErrUnreadableDocument, sub.Filename)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := sub.ReceivedAt
	if now.IsZero() {
		now = a.now()
	}
	main := doc.MainSheet()
	res := &Result{
		AnalysisID: a.newID(),
		Timestamp:  now,
		Filename:   sub.Filename,
		Questions:  tmpl.Questions,
	}

	declaredID := workbook.ReadText(doc, main, a.cfg.IDCell)
	res.Identity = Identity{
		DeclaredID:     declaredID,
		DeclaredHash:   workbook.ReadText(doc, main, a.cfg.HashCell),
		RecomputedHash: a.hasher.Sum(doc, declaredID),
		ExpectedID:     contenthash.ExpectedID(sub.Filename),
	}
	res.Authenticity, res.AuthenticityMessage = Authenticate(res.Identity, a.deps.Registry.Load())
	res.StudentID = history.Key(declaredID, res.Identity.ExpectedID)

	if a.deps.Signer != nil {
		res.Verification = a.deps.Signer.Verify(doc)
	} else {
		res.Verification = signature.Verification{Issues: []signature.Issue{{Code: signature.IssueSignatureAbsent, Detail: "no signing key configured"}}}
	}

	log := a.deps.Logger.With("student", res.StudentID, "file", sub.Filename, "analysis", res.AnalysisID)

	unlock := a.locks.Lock(res.StudentID)
	defer unlock()

	prior, err := a.deps.History.Load(ctx, res.StudentID)
	if err != nil {
		log.Warn("history load failed", "error", err)
		res.PersistErrors = append(res.PersistErrors, fmt.Errorf("load history: %w", err))
		prior = nil
	}
	res.Attempt = history.AttemptIndex(prior)
	res.SincePrevious, res.HasPrevious = history.SincePrevious(prior, now)
	previous := history.Previous(prior)

	_, maxRow := doc.Dimensions(main)
	res.Diff = diff.Compute(diff.Input{
		Questions:    tmpl.Questions,
		Template:     tmpl.Grid,
		Submission:   workbook.SheetGrid(doc, main),
		FirstRow:     a.cfg.Layout.FirstRow,
		LastRow:      max(tmpl.LastRow, a.cfg.Layout.LastRow(maxRow)),
		Previous:     previous,
		Verification: res.Verification,
	})
	a.classify(res, previous)

	entry := history.Entry{
		Timestamp:      now,
		Filename:       sub.Filename,
		DeclaredHash:   res.Identity.DeclaredHash,
		RecomputedHash: res.Identity.RecomputedHash,
		Authenticity:   string(res.Authenticity),
		Values:         res.Diff.Snapshot,
	}
	if err := a.deps.History.Append(ctx, res.StudentID, entry); err != nil {
		log.Warn("history append failed", "error", err)
		res.PersistErrors = append(res.PersistErrors, fmt.Errorf("append history: %w", err))
	}
	res.Timeline = history.BuildTimeline(append(prior, entry))

	res.ClientLog = workbook.ReadEditLog(doc, a.cfg.EditLogSheet)
	res.Records = audit.Build(audit.Input{
		Meta: audit.Meta{
			AnalysisID:     res.AnalysisID,
			Timestamp:      now,
			SincePrevious:  res.SincePrevious,
			HasPrevious:    res.HasPrevious,
			Filename:       sub.Filename,
			StudentID:      res.StudentID,
			DeclaredHash:   res.Identity.DeclaredHash,
			RecomputedHash: res.Identity.RecomputedHash,
			Attempt:        res.Attempt,
		},
		Questions:  tmpl.Questions,
		Template:   tmpl.Grid,
		Submission: workbook.SheetGrid(doc, main),
		Diff:       res.Diff,
		ClientLog:  res.ClientLog,
	})
	if err := a.deps.Ledger.Append(ctx, res.Records...); err != nil {
		log.Warn("audit append failed", "error", err)
		res.PersistErrors = append(res.PersistErrors, fmt.Errorf("append audit: %w", err))
	}

	log.Info("submission analyzed",
		"authenticity", res.Authenticity,
		"attempt", res.Attempt,
		"changed_vs_template", len(res.Diff.VsTemplate),
		"changed_vs_previous", len(res.Diff.VsPrevious),
		"alerts", res.Alerts(),
		"issues", len(res.Verification.Issues),
	)
	return res, nil
}

// classify fills the verdict of every matrix row. Values left as in the
// template are normal; only answers the student wrote are classified.
func (a *Analyzer) classify(res *Result, previous grid.Snapshot) {
	for i := range res.Diff.Matrix {
		row := &res.Diff.Matrix[i]
		switch row.Status {
		case diff.StatusIdentical:
			row.Verdict = detect.Verdict{Class: detect.ClassNormal, Rule: detect.RuleNone, Reason: "identical to template"}
		default:
			row.Verdict = a.deps.Detector.Classify(detect.Input{
				Answer:         row.Student,
				Question:       row.Question,
				HasPrevious:    res.HasPrevious,
				SincePrevious:  res.SincePrevious,
				PreviousAnswer: previous[row.Cell.String()],
			})
		}
	}
}
