package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

// BatchItem is the outcome of one submission of a batch.
type BatchItem struct {
	Filename string
	Result   *Result
	Err      error
}

// AnalyzeBatch analyzes submissions with at most limit students in flight
// (no limit when limit <= 0). Submissions of the same student run in the
// given order, one at a time. A failed submission does not stop the others;
// items come back in input order.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, subs []Submission, tmpl *Template, limit int) []BatchItem {
	items := make([]BatchItem, len(subs))
	var order []string
	groups := make(map[string][]int)
	for i, s := range subs {
		items[i].Filename = s.Filename
		key := a.batchKey(s)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range order {
		idx := groups[key]
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					items[i].Err = err
					continue
				}
				items[i].Result, items[i].Err = a.Analyze(gctx, subs[i], tmpl)
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// AnalyzeFiles opens and analyzes xlsx files in the given order. Files that
// cannot be opened are reported as failed items.
func (a *Analyzer) AnalyzeFiles(ctx context.Context, paths []string, tmpl *Template, limit int) []BatchItem {
	subs := make([]Submission, len(paths))
	openErr := make([]error, len(paths))
	for i, p := range paths {
		subs[i], openErr[i] = OpenSubmission(p)
		if openErr[i] != nil {
			a.deps.Logger.Warn("submission not readable", "file", p, "error", openErr[i])
			if a.deps.Observer != nil {
				a.deps.Observer.ObserveFailure(openErr[i])
			}
		}
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	var (
		readable []Submission
		at       []int
	)
	for i, s := range subs {
		if openErr[i] == nil {
			readable = append(readable, s)
			at = append(at, i)
		}
	}
	out := make([]BatchItem, len(paths))
	for i, err := range openErr {
		if err != nil {
			out[i] = BatchItem{Filename: paths[i], Err: err}
		}
	}
	for j, item := range a.AnalyzeBatch(ctx, readable, tmpl, limit) {
		out[at[j]] = item
	}
	return out
}

func (a *Analyzer) batchKey(s Submission) string {
	var declared string
	if s.Doc != nil {
		if main := s.Doc.MainSheet(); main != "" {
			declared = workbook.ReadText(s.Doc, main, a.cfg.IDCell)
		}
	}
	return history.Key(declared, contenthash.ExpectedID(s.Filename))
}
