package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"

	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

const sheet = "Feuil1"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTemplate(t *testing.T, path string) {
	t.Helper()
	x, err := workbook.NewXLSX(sheet)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()
	for ref, v := range map[string]string{"A1": "Nom", "C1": "Define stress", "D1": "Compute the moment", "C2": "42"} {
		if err := x.SetValue(sheet, grid.MustParseAddress(ref), workbook.String(v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := x.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestRootCommands(t *testing.T) {
	var got []string
	for _, c := range rootCmd().Commands() {
		got = append(got, c.Name())
	}
	for _, want := range []string{"analyze", "export", "hash", "issue", "purge", "serve", "timeline", "verify"} {
		found := false
		for _, g := range got {
			found = found || g == want
		}
		if !found {
			t.Errorf("missing %q command in %v", want, got)
		}
	}
}

func TestIssueHashAnalyze(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "audit.db")
	tmpl := filepath.Join(dir, "template.xlsx")
	writeTemplate(t, tmpl)
	roster := filepath.Join(dir, "roster.csv")
	if err := os.WriteFile(roster, []byte("id;nom;prenom\n1001;Doe;Jane\n1002;Roe;Rick\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	copies := filepath.Join(dir, "copies")
	records := filepath.Join(dir, "hash_records.csv")

	if _, err := run(t, "issue", "--db", db, "--secret", "s3cret", "--template", tmpl,
		"--roster", roster, "--out", copies, "--records", records); err != nil {
		t.Fatalf("issue: %v", err)
	}
	issued := filepath.Join(copies, "1001_Doe_Jane.xlsx")
	if _, err := os.Stat(issued); err != nil {
		t.Fatalf("issued copy missing: %v", err)
	}
	data, err := os.ReadFile(records)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "1002") {
		t.Errorf("records file lacks the second student:\n%s", data)
	}

	out, err := run(t, "hash", "--db", db, "--issued", filepath.Join(dir, "none*.csv"), issued)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	var hashed struct {
		Authenticity string `json:"authenticity"`
		Identity     struct {
			DeclaredHash string `json:"declared_hash"`
		} `json:"identity"`
		IssuedHashes []string `json:"issued_hashes"`
	}
	if err := json.Unmarshal([]byte(out), &hashed); err != nil {
		t.Fatalf("hash output: %v\n%s", err, out)
	}
	if hashed.Authenticity != "official_clean" {
		t.Errorf("untouched copy authenticity = %q, want official_clean", hashed.Authenticity)
	}
	if diff := cmp.Diff([]string{hashed.Identity.DeclaredHash}, hashed.IssuedHashes); diff != "" {
		t.Errorf("issued hashes mismatch (-want +got):\n%s", diff)
	}

	doc, err := workbook.OpenXLSX(issued)
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.SetValue(sheet, grid.MustParseAddress("D3"), workbook.String("The moment is twelve newton metres")); err != nil {
		t.Fatal(err)
	}
	submitted := filepath.Join(dir, "TP1__1001_Doe.xlsx")
	if err := doc.SaveAs(submitted); err != nil {
		t.Fatal(err)
	}
	doc.Close()

	ledger := filepath.Join(dir, "audit_log.csv")
	out, err = run(t, "analyze", "--db", db, "--secret", "s3cret", "--template", tmpl,
		"--issued", filepath.Join(dir, "none*.csv"), "--audit-csv", ledger, "--format", "json", submitted)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var rep struct {
		StudentID    string `json:"student_id"`
		Authenticity string `json:"authenticity"`
		Counters     struct {
			Answered int `json:"answered"`
		} `json:"counters"`
		Persisted bool `json:"persisted"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("analyze output: %v\n%s", err, out)
	}
	if rep.StudentID != "1001" || rep.Authenticity != "official_then_edited" || rep.Counters.Answered != 1 || !rep.Persisted {
		t.Errorf("report = %+v", rep)
	}
	if _, err := os.Stat(ledger); err != nil {
		t.Errorf("audit CSV not written: %v", err)
	}

	out, err = run(t, "timeline", "--db", db, "--all", "1001")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if !strings.Contains(out, "D3") {
		t.Errorf("timeline lacks D3:\n%s", out)
	}

	exported := filepath.Join(dir, "export.csv")
	if _, err := run(t, "export", "--db", db, "--format", "csv", "--output", exported); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := os.Open(exported)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) < 2 {
		t.Fatalf("export has %d rows, want header and records", len(rows))
	}
	if diff := cmp.Diff(audit.Header, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestPurgeNeedsConfirmation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "audit.db")
	if _, err := run(t, "purge", "--db", db, "1001"); err == nil {
		t.Error("purge without --yes succeeded")
	}
	if _, err := run(t, "purge", "--db", db, "--yes", "1001"); err == nil {
		t.Error("purge of an unknown student succeeded")
	}
}

func TestInitLanguage(t *testing.T) {
	tests := []struct {
		lang    string
		wantErr bool
	}{
		{"fr", false},
		{"en", false},
		{"de", false},
		{"not a tag!", true},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			err := initLanguage(tt.lang)
			if (err != nil) != tt.wantErr {
				t.Fatalf("initLanguage(%q) error = %v, wantErr %v", tt.lang, err, tt.wantErr)
			}
		})
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.xlsx", "b.xlsx", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := expandPaths([]string{dir, "missing.xlsx"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "b.xlsx"), "missing.xlsx"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNewDetectorOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "cours.txt")
	refs := filepath.Join(dir, "dataset.csv")
	if err := os.WriteFile(corpus, []byte("La contrainte est le rapport de la force sur la surface."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(refs, []byte("text,label\nIn conclusion, stress is force per unit area.,ai\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		corpus, refs   string
		wantCorpus     bool
		wantReferences bool
	}{
		{"none configured", "", "", false, false},
		{"both loaded", corpus, refs, true, true},
		{"both missing", filepath.Join(dir, "missing.txt"), filepath.Join(dir, "missing.csv"), false, false},
		{"corpus missing", filepath.Join(dir, "missing.txt"), refs, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("corpus", tt.corpus)
			v.Set("references", tt.refs)
			d, err := newDetector(v)
			if err != nil {
				t.Fatalf("newDetector: %v", err)
			}
			if d.HasCorpus() != tt.wantCorpus || d.HasReferences() != tt.wantReferences {
				t.Errorf("HasCorpus = %v, HasReferences = %v; want %v, %v",
					d.HasCorpus(), d.HasReferences(), tt.wantCorpus, tt.wantReferences)
			}
		})
	}
}

func TestAnalyzeWithoutCorpusOrDataset(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.xlsx")
	writeTemplate(t, tmpl)

	x, err := workbook.NewXLSX(sheet)
	if err != nil {
		t.Fatal(err)
	}
	cells := map[string]string{
		"A1": "Nom", "C1": "Define stress", "D1": "Compute the moment", "C2": "42",
		"Z1": "1001", "D3": "The moment is twelve newton metres",
	}
	for ref, val := range cells {
		if err := x.SetValue(sheet, grid.MustParseAddress(ref), workbook.String(val)); err != nil {
			t.Fatal(err)
		}
	}
	submitted := filepath.Join(dir, "TP1__1001_Doe.xlsx")
	if err := x.SaveAs(submitted); err != nil {
		t.Fatal(err)
	}
	x.Close()

	out, err := run(t, "analyze", "--db", filepath.Join(dir, "audit.db"), "--template", tmpl,
		"--issued", filepath.Join(dir, "none*.csv"), "--audit-csv", filepath.Join(dir, "audit_log.csv"),
		"--corpus", filepath.Join(dir, "missing", "cours.txt"),
		"--references", filepath.Join(dir, "missing", "dataset.csv"),
		"--format", "json", submitted)
	if err != nil {
		t.Fatalf("analyze with missing corpus and dataset: %v", err)
	}
	var rep struct {
		StudentID string `json:"student_id"`
		Counters  struct {
			Answered int `json:"answered"`
		} `json:"counters"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("analyze output: %v\n%s", err, out)
	}
	if rep.StudentID != "1001" || rep.Counters.Answered != 1 {
		t.Errorf("report = %+v", rep)
	}
}
