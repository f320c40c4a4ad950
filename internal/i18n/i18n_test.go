package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLanguage(context.Background(), lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "Class_suspected_ai"); got != "Suspected AI" {
		t.Errorf("T(Class_suspected_ai) = %q, want 'Suspected AI'", got)
	}
	if got := T(ctx, "Action_remove"); got != "removed" {
		t.Errorf("T(Action_remove) = %q, want 'removed'", got)
	}
}

func TestTranslateFrench(t *testing.T) {
	ctx := initLang(t, "fr")

	if got := T(ctx, "Class_suspected_copy"); got != "Copie suspectée" {
		t.Errorf("T(Class_suspected_copy) = %q, want 'Copie suspectée'", got)
	}
	if got := T(ctx, "Auth_official_clean"); got != "Copie officielle intacte." {
		t.Errorf("T(Auth_official_clean) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "AlertCount", 1); got != "1 alert" {
		t.Errorf("Tp(AlertCount, 1) = %q, want '1 alert'", got)
	}
	if got := Tp(ctx, "AlertCount", 5); got != "5 alerts" {
		t.Errorf("Tp(AlertCount, 5) = %q, want '5 alerts'", got)
	}

	fr := WithLanguage(context.Background(), "fr")
	if got := Tp(fr, "AlertCount", 0); got != "0 alerte" {
		t.Errorf("Tp(fr AlertCount, 0) = %q, want '0 alerte'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "Auth_mismatch", map[string]any{"DeclaredID": "1001", "ExpectedID": "1002"})
	want := "Declared id 1001 differs from id 1002 expected from the filename."
	if got != want {
		t.Errorf("Td(Auth_mismatch) = %q, want %q", got, want)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
	if Has("NonExistentKey") {
		t.Error("Has(NonExistentKey) = true")
	}
	if !Has("ReportTitle") {
		t.Error("Has(ReportTitle) = false")
	}
}

func TestLocalesShareKeys(t *testing.T) {
	ctx := initLang(t, "fr")
	for _, id := range []string{"ReportTitle", "SectionTimeline", "Rule_gibberish", "Issue_structure_changed"} {
		if got := T(ctx, id); got == id {
			t.Errorf("fr is missing %s", id)
		}
	}
}

func TestLanguages(t *testing.T) {
	if err := Init("fr"); err != nil {
		t.Fatal(err)
	}
	got := Languages()
	slices.Sort(got)
	if diff := cmp.Diff([]string{"en", "fr"}, got); diff != "" {
		t.Errorf("Languages() mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		prefs []string
		want  string
	}{
		{nil, "en"},
		{[]string{"fr"}, "fr"},
		{[]string{"", "fr-CA,fr;q=0.9,en;q=0.5"}, "fr"},
		{[]string{"de"}, "en"},
		{[]string{"en-GB"}, "en"},
	}
	for _, tt := range tests {
		if got := Match(tt.prefs...); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(T(r.Context(), "Class_normal")))
	}))

	req := httptest.NewRequest(http.MethodGet, "/?lang=fr", nil)
	req.Header.Set("Accept-Language", "en")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Body.String(); got != "Réponse normale" {
		t.Errorf("body = %q, want 'Réponse normale'", got)
	}
	if got := rec.Header().Get("Content-Language"); got != "fr" {
		t.Errorf("Content-Language = %q, want fr", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Body.String(); got != "Normal" {
		t.Errorf("body = %q, want 'Normal'", got)
	}
}
