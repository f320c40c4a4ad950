package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/model"
	"github.com/pavelanni/sheetaudit/internal/signature"
)

func TestObserveResult(t *testing.T) {
	r := New()
	res := &analysis.Result{
		Authenticity: model.AuthenticityOfficialThenEdited,
		Diff: diff.Result{Matrix: []diff.Row{
			{Verdict: detect.Verdict{Class: detect.ClassNormal}},
			{Verdict: detect.Verdict{Class: detect.ClassSuspectedAI}},
			{Verdict: detect.Verdict{Class: detect.ClassSuspectedAI}},
		}},
		Verification:  signature.Verification{Issues: []signature.Issue{{Code: signature.IssueStructureChanged}}},
		PersistErrors: []error{errors.New("disk full")},
	}
	r.ObserveResult(res)
	r.ObserveResult(&analysis.Result{Authenticity: model.AuthenticityTampered})
	r.ObserveFailure(errors.New("unreadable"))

	body := scrape(t, r)
	for _, want := range []string{
		`sheetaudit_analyses_total{authenticity="official_then_edited"} 1`,
		`sheetaudit_analyses_total{authenticity="tampered"} 1`,
		`sheetaudit_verdicts_total{class="suspected_ai"} 2`,
		`sheetaudit_verdicts_total{class="normal"} 1`,
		`sheetaudit_signature_issues_total{code="structure_changed"} 1`,
		"sheetaudit_analysis_failures_total 1",
		"sheetaudit_persist_failures_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesCounters(t *testing.T) {
	r := New()
	r.ObserveRequest(http.MethodPost, "/analyze", http.StatusOK, 30*time.Millisecond)
	r.ObserveFailure(nil)

	body := scrape(t, r)
	for _, want := range []string{
		`sheetaudit_http_requests_total{method="POST",route="/analyze",status="200"} 1`,
		"sheetaudit_analysis_failures_total 1",
		"sheetaudit_http_latency_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
