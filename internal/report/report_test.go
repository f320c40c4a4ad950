package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

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

var (
	t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(90 * time.Minute)
)

func sampleResult() *analysis.Result {
	c4 := grid.MustParseAddress("C4")
	d4 := grid.MustParseAddress("D4")
	c5 := grid.MustParseAddress("C5")
	return &analysis.Result{
		AnalysisID: "a-1",
		Timestamp:  t1,
		Filename:   "TP1__1001_Doe_Jane.xlsx",
		StudentID:  "1001",
		Identity: analysis.Identity{
			DeclaredID:     "1001",
			DeclaredHash:   "aaa",
			RecomputedHash: "bbb",
			ExpectedID:     "1001",
		},
		Authenticity:  model.AuthenticityOfficialThenEdited,
		Attempt:       2,
		HasPrevious:   true,
		SincePrevious: 90 * time.Minute,
		Verification: signature.Verification{
			Changed: []grid.Address{c4, d4, grid.MustParseAddress("A2")},
		},
		Diff: diff.Result{
			HasPrevious: true,
			VsTemplate: []diff.TemplateChange{
				{Cell: c4, Question: "Q1", Student: "Stress is force per area"},
				{Cell: d4, Question: "Q2", Student: "Il est important de noter que"},
			},
			VsPrevious: []diff.PreviousChange{
				{Cell: d4, Question: "Q2", Current: "Il est important de noter que", Action: diff.ActionAdd},
			},
			VsBaseline: diff.Baseline{
				Verified: true,
				Expected: []grid.Address{c4, d4},
				Alerts:   []grid.Address{grid.MustParseAddress("A2")},
			},
			Matrix: []diff.Row{
				{Cell: c4, Question: "Q1", Student: "Stress is force per area", Status: diff.StatusModified,
					Verdict: detect.Verdict{Class: detect.ClassNormal, Rule: detect.RuleNone}},
				{Cell: d4, Question: "Q2", Student: "Il est important de noter que", Status: diff.StatusModified,
					Verdict: detect.Verdict{Class: detect.ClassSuspectedAI, Rule: detect.RuleAIMarkers, Confidence: 70}},
				{Cell: c5, Question: "Q1", Status: diff.StatusUnanswered,
					Verdict: detect.Verdict{Class: detect.ClassUnanswered, Rule: detect.RuleEmpty}},
			},
		},
		Timeline: history.Timeline{
			"C4": {{Timestamp: t0, Value: "Stress is force per area"}},
			"D4": {{Timestamp: t0, Value: ""}, {Timestamp: t1, Value: "Il est important de noter que"}},
		},
	}
}

func TestBuildCounters(t *testing.T) {
	rep := Build(sampleResult())

	want := Counters{ChangedVsTemplate: 2, ChangedVsPrevious: 1, Answered: 2, Unanswered: 1, Alerts: 1}
	if diff := cmp.Diff(want, rep.Counters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
	if !rep.Signature.Present || rep.Signature.Changed != 3 {
		t.Errorf("signature = %+v", rep.Signature)
	}
	if diff := cmp.Diff([]string{"A2"}, rep.Signature.Alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
	if rep.SinceSeconds != 5400 {
		t.Errorf("since = %v, want 5400", rep.SinceSeconds)
	}
	if len(rep.Timeline) != 2 || rep.Timeline[0].Cell != "C4" || rep.Timeline[1].Cell != "D4" {
		t.Errorf("timeline = %+v", rep.Timeline)
	}
	if !rep.Persisted {
		t.Error("report should be persisted")
	}
}

func TestBuildAbsentSignatureAndPersistFailure(t *testing.T) {
	r := sampleResult()
	r.Verification = signature.Verification{Issues: []signature.Issue{{Code: signature.IssueSignatureAbsent}}}
	r.PersistErrors = []error{errors.New("disk full")}
	r.HasPrevious = false

	rep := Build(r)
	if rep.Signature.Present || len(rep.Signature.Issues) != 0 {
		t.Errorf("signature = %+v, want absent without issues", rep.Signature)
	}
	if rep.Persisted {
		t.Error("report should not be persisted")
	}
	if rep.SinceSeconds != 0 {
		t.Errorf("since = %v, want 0", rep.SinceSeconds)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Build(sampleResult())); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["authenticity"] != "official_then_edited" {
		t.Errorf("authenticity = %v", got["authenticity"])
	}
	counters := got["counters"].(map[string]any)
	if counters["alerts"] != float64(1) {
		t.Errorf("alerts = %v", counters["alerts"])
	}
}

func writeText(t *testing.T, lang string, rep Report) string {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteText(i18n.WithLanguage(context.Background(), lang), &buf, rep); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestWriteTextEnglish(t *testing.T) {
	rep := Build(sampleResult())
	rep.AttachOpinions([]llm.CellOpinion{{Cell: "D4", Opinion: llm.Opinion{Verdict: "ai", Confidence: 80, Rationale: "generic phrasing"}}})
	out := writeText(t, "en", rep)

	for _, want := range []string{
		"Submission report: TP1__1001_Doe_Jane.xlsx",
		"Student: 1001, attempt 2",
		"Time since previous submission: 1h30m0s",
		"Issued copy, then edited to answer (expected).",
		"Signature present, 3 cells changed since issuance.",
		"Cells changed outside question columns: A2",
		"- 2 cells differ from the template",
		"- 1 change since the previous submission",
		"- 1 unanswered cell",
		"- 1 alert",
		"Suspected AI 70%",
		"AI-style phrasing",
		"D4: ai (80%) generic phrasing",
		"Cell history",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "C5") {
		t.Errorf("unanswered cells should not be listed:\n%s", out)
	}
	// Only D4 changed across submissions.
	if strings.Count(out, "Stress is force per area") != 2 {
		t.Errorf("C4 should appear in template changes and answers only:\n%s", out)
	}
}

func TestWriteTextFrench(t *testing.T) {
	r := sampleResult()
	r.Authenticity = model.AuthenticityMismatch
	r.Identity.ExpectedID = "1002"
	r.HasPrevious = false
	out := writeText(t, "fr", Build(r))

	for _, want := range []string{
		"Rapport de dépôt : TP1__1001_Doe_Jane.xlsx",
		"Premier dépôt",
		"ID déclaré 1001 ≠ ID attendu d'après le nom du fichier (1002).",
		"IA suspectée 70%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Modifications depuis le dépôt précédent") {
		t.Errorf("first submission should not list previous changes:\n%s", out)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := clip(long)
	if n := len([]rune(got)); n != clipRunes {
		t.Errorf("clip length = %d, want %d", n, clipRunes)
	}
	if got := clip("a\n  b"); got != "a b" {
		t.Errorf("clip = %q, want 'a b'", got)
	}
}
