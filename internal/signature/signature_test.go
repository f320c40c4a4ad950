package signature

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	fixed := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)
	s, err := New([]byte("test-secret"), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func issuedBook() *workbook.Book {
	b := workbook.NewBook("Feuil1")
	b.Set("Feuil1", "A1", "Nom")
	b.Set("Feuil1", "C1", "Define stress")
	b.Set("Feuil1", "D1", "Compute the bending moment")
	b.Set("Feuil1", "Z1", "S100")
	b.Set("Feuil1", "C3", "")
	b.Set("Feuil1", "A3", "row label")
	b.AddValidation("Feuil1", "C2:C3")
	_ = b.Protect("Feuil1", nil)
	return b
}

func signed(t *testing.T, s *Signer) *workbook.Book {
	t.Helper()
	b := issuedBook()
	h, err := s.Sign(b, "v1", "S100")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if h.StudentID != "S100" || h.TemplateVersion != "v1" || h.StructHash == "" {
		t.Fatalf("unexpected header %+v", h)
	}
	return b
}

func TestVerifyUnmodifiedIsClean(t *testing.T) {
	s := newTestSigner(t)
	b := signed(t, s)

	v := s.Verify(b)
	if len(v.Changed) != 0 {
		t.Errorf("Changed = %v, want none", v.Changed)
	}
	if len(v.Issues) != 0 {
		t.Errorf("Issues = %v, want none", v.Issues)
	}
	if !v.Header.GeneratedAt.Equal(time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("GeneratedAt = %v", v.Header.GeneratedAt)
	}
	if !b.Hidden(DefaultSheet) {
		t.Error("signature sheet should be hidden")
	}
}

func TestVerifySingleCellChange(t *testing.T) {
	s := newTestSigner(t)
	tests := []struct {
		name string
		ref  string
		val  workbook.Value
	}{
		{"fill answer", "C2", workbook.String("a stress is a force per area")},
		{"fill inactive column", "E3", workbook.String("x")},
		{"number in place of blank", "D2", workbook.Number(12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := signed(t, s)
			if err := b.SetValue("Feuil1", grid.MustParseAddress(tt.ref), tt.val); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
			v := s.Verify(b)
			if diff := cmp.Diff([]grid.Address{grid.MustParseAddress(tt.ref)}, v.Changed); diff != "" {
				t.Errorf("changed mismatch (-want +got):\n%s", diff)
			}
			if len(v.Issues) != 0 {
				t.Errorf("unexpected issues %v", v.Issues)
			}
		})
	}
}

func TestVerifyTypeChangeIsDetected(t *testing.T) {
	s := newTestSigner(t)
	b := issuedBook()
	b.Set("Feuil1", "C2", "12")
	if _, err := s.Sign(b, "v1", "S100"); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_ = b.SetValue("Feuil1", grid.MustParseAddress("C2"), workbook.Number(12))
	v := s.Verify(b)
	if len(v.Changed) != 1 || v.Changed[0].String() != "C2" {
		t.Errorf("Changed = %v, want [C2]", v.Changed)
	}
}

func TestVerifyStructuralChanges(t *testing.T) {
	s := newTestSigner(t)
	tests := []struct {
		name   string
		mutate func(b *workbook.Book)
	}{
		{"rename sheet", func(b *workbook.Book) { _ = b.RenameSheet("Feuil1", "Sheet") }},
		{"add validation", func(b *workbook.Book) { b.AddValidation("Feuil1", "D2:D3") }},
		{"edit question", func(b *workbook.Book) { b.Set("Feuil1", "D1", "Compute the shear force") }},
		{"unprotect", func(b *workbook.Book) { b.Unprotect("Feuil1") }},
		{"add sheet", func(b *workbook.Book) { b.AddSheet("Scratch") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := signed(t, s)
			tt.mutate(b)
			v := s.Verify(b)
			found := false
			for _, is := range v.Issues {
				if is.Code == IssueStructureChanged {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %s issue, got %v", IssueStructureChanged, v.Issues)
			}
		})
	}
}

func TestFingerprintIgnoresLogAndAnswerExtent(t *testing.T) {
	s := newTestSigner(t)
	b := signed(t, s)
	b.AddSheet(workbook.EditLogSheet)
	b.Set(workbook.EditLogSheet, "A1", "timestamp")
	b.Set("Feuil1", "AB40", "far away")

	v := s.Verify(b)
	for _, is := range v.Issues {
		if is.Code == IssueStructureChanged {
			t.Fatalf("edit log or answer extent must not change the fingerprint")
		}
	}
}

func TestVerifyAbsentSignature(t *testing.T) {
	s := newTestSigner(t)
	v := s.Verify(issuedBook())
	if !v.Absent() {
		t.Fatalf("expected absent signature, got %+v", v)
	}
	if v.Changed != nil {
		t.Errorf("absent signature must not report cells, got %v", v.Changed)
	}
}

func TestVerifyInvalidHeader(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*workbook.Book)
	}{
		{"corrupt json", func(b *workbook.Book) { b.Set(DefaultSheet, "B1", "{not json") }},
		{"missing header row", func(b *workbook.Book) { b.Set(DefaultSheet, "A1", "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSigner(t)
			b := signed(t, s)
			b.Set("Feuil1", "C2", "edited")
			tt.mutate(b)

			v := s.Verify(b)
			if len(v.Issues) != 1 || v.Issues[0].Code != IssueHeaderInvalid {
				t.Fatalf("Issues = %v, want one header_invalid", v.Issues)
			}
			if v.Header != (Header{}) {
				t.Errorf("header should be empty, got %+v", v.Header)
			}
			if len(v.Changed) != 0 {
				t.Errorf("Changed = %v, want none without a header", v.Changed)
			}
		})
	}
}

func TestWrongSecretFlagsEveryCell(t *testing.T) {
	s := newTestSigner(t)
	b := signed(t, s)
	other, err := New([]byte("another-secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := other.Verify(b)
	_, maxRow := b.Dimensions("Feuil1")
	want := (grid.DefaultLayout().LastCol - grid.DefaultLayout().FirstCol + 1) * (maxRow - 1)
	if len(v.Changed) != want {
		t.Errorf("len(Changed) = %d, want %d", len(v.Changed), want)
	}
}

func TestResignOverwrites(t *testing.T) {
	s := newTestSigner(t)
	b := signed(t, s)
	b.Set("Feuil1", "C2", "answer")
	if _, err := s.Sign(b, "v2", "S100"); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v := s.Verify(b)
	if len(v.Changed) != 0 || len(v.Issues) != 0 {
		t.Errorf("re-signed document should verify clean, got %+v", v)
	}
	if v.Header.TemplateVersion != "v2" {
		t.Errorf("TemplateVersion = %q", v.Header.TemplateVersion)
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty secret")
	}
}
