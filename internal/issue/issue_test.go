package issue

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/sheetaudit/internal/analysis"
	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/model"
	"github.com/pavelanni/sheetaudit/internal/signature"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

func newIssuer(t *testing.T) (*Issuer, *signature.Signer) {
	t.Helper()
	fixed := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	s, err := signature.New([]byte("issue-secret"), signature.WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}
	cfg := analysis.DefaultConfig()
	is, err := New(Config{Layout: cfg.Layout, IDCell: cfg.IDCell, HashCell: cfg.HashCell}, s, nil)
	if err != nil {
		t.Fatal(err)
	}
	return is, s
}

func templateBook() *workbook.Book {
	b := workbook.NewBook("Feuil1")
	b.Set("Feuil1", "A1", "Nom")
	b.Set("Feuil1", "C1", "Define stress")
	b.Set("Feuil1", "D1", "Compute the moment")
	b.Set("Feuil1", "A3", "row label")
	return b
}

func TestNewRequiresSigner(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err != ErrNoSigner {
		t.Errorf("err = %v, want ErrNoSigner", err)
	}
}

func TestPrepare(t *testing.T) {
	is, s := newIssuer(t)
	b := templateBook()

	rec, err := is.Prepare(b, Student{ID: "1001", LastName: "Doe", FirstName: "Jane"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := workbook.ReadText(b, "Feuil1", grid.MustParseAddress("Z1")); got != "1001" {
		t.Errorf("Z1 = %q, want 1001", got)
	}
	if got := workbook.ReadText(b, "Feuil1", grid.MustParseAddress("Z2")); got != rec.Hash {
		t.Errorf("Z2 = %q, want %q", got, rec.Hash)
	}
	if got := contenthash.NewHasher(grid.MustParseAddress("Z2")).Sum(b, "1001"); got != rec.Hash {
		t.Errorf("recomputed hash %q differs from issued %q", got, rec.Hash)
	}
	if rec.Filename != "1001_Doe_Jane.xlsx" {
		t.Errorf("Filename = %q", rec.Filename)
	}

	if !b.Protected("Feuil1") {
		t.Error("main sheet should be protected")
	}
	if !b.Unlocked("Feuil1", grid.MustParseAddress("C2")) || !b.Unlocked("Feuil1", grid.MustParseAddress("Y3")) {
		t.Error("answer cells should stay editable")
	}
	if b.Unlocked("Feuil1", grid.MustParseAddress("A3")) || b.Unlocked("Feuil1", grid.MustParseAddress("C1")) {
		t.Error("labels and questions should be locked")
	}

	v := s.Verify(b)
	if len(v.Issues) != 0 || len(v.Changed) != 0 {
		t.Errorf("fresh copy verification = %+v, want clean", v)
	}
	if v.Header.StudentID != "1001" || v.Header.TemplateVersion != "v1" {
		t.Errorf("header = %+v", v.Header)
	}
}

func TestPreparedCopyIsOfficial(t *testing.T) {
	is, _ := newIssuer(t)
	b := templateBook()
	rec, err := is.Prepare(b, Student{ID: "1001", LastName: "Doe", FirstName: "Jane"})
	if err != nil {
		t.Fatal(err)
	}
	reg := contenthash.NewRegistry(rec)
	id := analysis.Identity{
		DeclaredID:     "1001",
		DeclaredHash:   rec.Hash,
		RecomputedHash: contenthash.NewHasher(grid.MustParseAddress("Z2")).Sum(b, "1001"),
		ExpectedID:     contenthash.ExpectedID("TP1__1001_" + rec.Filename),
	}
	if got, _ := analysis.Authenticate(id, reg); got != model.AuthenticityOfficialClean {
		t.Errorf("authenticity = %s, want official_clean", got)
	}

	b.Set("Feuil1", "C2", "Stress is force per area")
	id.RecomputedHash = contenthash.NewHasher(grid.MustParseAddress("Z2")).Sum(b, "1001")
	if got, _ := analysis.Authenticate(id, reg); got != model.AuthenticityOfficialThenEdited {
		t.Errorf("authenticity after answering = %s, want official_then_edited", got)
	}
}

func TestHashesDifferPerStudent(t *testing.T) {
	is, _ := newIssuer(t)
	a, err := is.Prepare(templateBook(), Student{ID: "1001"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := is.Prepare(templateBook(), Student{ID: "1002"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == b.Hash {
		t.Error("copies of different students share a hash")
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		st   Student
		want string
	}{
		{Student{ID: "1001", LastName: "Doe", FirstName: "Jane"}, "1001_Doe_Jane.xlsx"},
		{Student{ID: "1002", LastName: "Le Gall", FirstName: "Anne/Marie"}, "1002_Le-Gall_Anne-Marie.xlsx"},
		{Student{ID: "1003"}, "1003__.xlsx"},
	}
	for _, tt := range tests {
		if got := Filename(tt.st); got != tt.want {
			t.Errorf("Filename(%+v) = %q, want %q", tt.st, got, tt.want)
		}
	}
}

func TestReadRoster(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Student
	}{
		{
			name: "english comma",
			in:   "student_id,last_name,first_name\n1001,Doe,Jane\n,Nobody,Skip\n1002,Roe,Rick\n",
			want: []Student{{"1001", "Doe", "Jane"}, {"1002", "Roe", "Rick"}},
		},
		{
			name: "french semicolon with bom",
			in:   "\ufeffid;nom;prénom\n2001;Martin;Léa\n",
			want: []Student{{"2001", "Martin", "Léa"}},
		},
		{
			name: "id only",
			in:   "id\n3001\n",
			want: []Student{{ID: "3001"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadRoster(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("ReadRoster: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadRosterErrors(t *testing.T) {
	for name, in := range map[string]string{
		"empty":        "",
		"no id column": "nom,prenom\nDoe,Jane\n",
		"duplicate":    "id,nom\n1001,Doe\n1001,Roe\n",
	} {
		if _, err := ReadRoster(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func xlsxTemplate(t *testing.T) []byte {
	t.Helper()
	x, err := workbook.NewXLSX("Feuil1")
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()
	for ref, text := range map[string]string{"A1": "Nom", "C1": "Define stress", "D1": "Compute the moment"} {
		if err := x.SetValue("Feuil1", grid.MustParseAddress(ref), workbook.String(text)); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIssueAll(t *testing.T) {
	is, s := newIssuer(t)
	dir := filepath.Join(t.TempDir(), "copies")
	roster := []Student{{"1001", "Doe", "Jane"}, {"1002", "Roe", "Rick"}, {"1003", "Poe", "Edgar"}}

	recs, err := is.IssueAll(context.Background(), xlsxTemplate(t), roster, Options{OutDir: dir, Limit: 2})
	if err != nil {
		t.Fatalf("IssueAll: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.StudentID != roster[i].ID {
			t.Errorf("record %d is %s, want roster order", i, rec.StudentID)
		}
		if _, err := os.Stat(filepath.Join(dir, rec.Filename)); err != nil {
			t.Errorf("copy missing: %v", err)
		}
	}

	doc, err := workbook.OpenXLSX(filepath.Join(dir, recs[1].Filename))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()
	if got := workbook.ReadText(doc, "Feuil1", grid.MustParseAddress("Z1")); got != "1002" {
		t.Errorf("Z1 = %q, want 1002", got)
	}
	if got := workbook.ReadText(doc, "Feuil1", grid.MustParseAddress("Z2")); got != recs[1].Hash {
		t.Errorf("Z2 = %q, want %q", got, recs[1].Hash)
	}
	if !doc.Protected("Feuil1") {
		t.Error("saved copy should be protected")
	}
	if !doc.HasSheet(s.Sheet()) {
		t.Error("saved copy has no signature sheet")
	}
}
