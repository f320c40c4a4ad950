// Package signature stamps issued workbooks with per-cell authentication codes
// and a structural fingerprint, and verifies returned copies against them.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

const (
	// DefaultSheet is the very-hidden sheet holding the signature record.
	DefaultSheet = "_sig"
	headerKey    = "__header__"
	keyInfo      = "sheetaudit cell signature v1"
)

// IssueCode identifies a verification problem.
type IssueCode string

const (
	IssueSignatureAbsent  IssueCode = "signature_absent"
	IssueHeaderInvalid    IssueCode = "header_invalid"
	IssueStructureChanged IssueCode = "structure_changed"
	IssueSignatureCorrupt IssueCode = "signature_corrupt"
)

// Issue is a structural problem found while verifying a document.
type Issue struct {
	Code   IssueCode `json:"code"`
	Detail string    `json:"detail,omitempty"`
}

// Header is the signature record metadata stored in the signature sheet.
type Header struct {
	TemplateVersion string    `json:"template_version"`
	StructHash      string    `json:"struct_hash"`
	StudentID       string    `json:"student_id"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Verification is the outcome of Verify.
type Verification struct {
	Header  Header         `json:"header"`
	Changed []grid.Address `json:"changed"`
	Issues  []Issue        `json:"issues"`
}

// Absent reports whether the document carried no signature sheet.
func (v Verification) Absent() bool {
	return len(v.Issues) == 1 && v.Issues[0].Code == IssueSignatureAbsent
}

// Signer signs and verifies documents with a key derived from a master secret.
type Signer struct {
	key    []byte
	layout grid.Layout
	sheet  string
	skip   map[string]bool
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithLayout sets the answer layout covered by cell codes.
func WithLayout(l grid.Layout) Option { return func(s *Signer) { s.layout = l } }

// WithSheet overrides the signature sheet name.
func WithSheet(name string) Option { return func(s *Signer) { s.sheet = name } }

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Signer) { s.now = now } }

// WithExcludedSheets leaves extra sheets out of the structural fingerprint,
// typically sheets the client is allowed to write to.
func WithExcludedSheets(names ...string) Option {
	return func(s *Signer) {
		for _, n := range names {
			s.skip[n] = true
		}
	}
}

// New derives the cell-code key from secret.
func New(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	s := &Signer{
		key:    key,
		layout: grid.DefaultLayout(),
		sheet:  DefaultSheet,
		skip:   map[string]bool{workbook.EditLogSheet: true},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.skip[s.sheet] = true
	return s, nil
}

// Sheet returns the signature sheet name.
func (s *Signer) Sheet() string { return s.sheet }

// Sign computes a code for every cell of the answer layout of the main sheet,
// fingerprints the document structure, and writes both to the signature
// sheet. Any previous signature is overwritten.
func (s *Signer) Sign(doc workbook.Document, templateVersion, studentID string) (Header, error) {
	main := doc.MainSheet()
	_, maxRow := doc.Dimensions(main)
	last := s.layout.LastRow(maxRow)

	if err := doc.AddHiddenSheet(s.sheet); err != nil {
		return Header{}, fmt.Errorf("create signature sheet: %w", err)
	}
	// Clear rows left by an earlier signature.
	_, oldRows := doc.Dimensions(s.sheet)
	for row := 1; row <= oldRows; row++ {
		for col := 1; col <= 2; col++ {
			if err := doc.SetValue(s.sheet, grid.Address{Col: col, Row: row}, workbook.Value{Kind: workbook.KindEmpty}); err != nil {
				return Header{}, fmt.Errorf("clear signature sheet: %w", err)
			}
		}
	}

	h := Header{
		TemplateVersion: templateVersion,
		StructHash:      s.Fingerprint(doc),
		StudentID:       studentID,
		GeneratedAt:     s.now().UTC().Truncate(time.Second),
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return Header{}, fmt.Errorf("encode signature header: %w", err)
	}
	if err := s.put(doc, 1, headerKey, string(raw)); err != nil {
		return Header{}, err
	}

	out := 2
	for row := s.layout.FirstRow; row <= last; row++ {
		for col := s.layout.FirstCol; col <= s.layout.LastCol; col++ {
			at := grid.Address{Col: col, Row: row}
			code := s.code(templateVersion, main, at, doc.Value(main, at))
			if err := s.put(doc, out, at.String(), code); err != nil {
				return Header{}, err
			}
			out++
		}
	}
	return h, nil
}

func (s *Signer) put(doc workbook.Document, row int, a, b string) error {
	if err := doc.SetValue(s.sheet, grid.Address{Col: 1, Row: row}, workbook.String(a)); err != nil {
		return fmt.Errorf("write signature row %d: %w", row, err)
	}
	if err := doc.SetValue(s.sheet, grid.Address{Col: 2, Row: row}, workbook.String(b)); err != nil {
		return fmt.Errorf("write signature row %d: %w", row, err)
	}
	return nil
}

// Verify checks a returned document against its embedded signature. It never
// fails: problems are reported as issues and unverifiable parts are left out.
// A missing or invalid header yields that issue alone and no changed cells.
func (s *Signer) Verify(doc workbook.Document) Verification {
	if !doc.HasSheet(s.sheet) {
		return Verification{Issues: []Issue{{Code: IssueSignatureAbsent, Detail: s.sheet}}}
	}

	var v Verification
	at := func(col, row int) string {
		return doc.Value(s.sheet, grid.Address{Col: col, Row: row}).Text
	}
	if at(1, 1) != headerKey {
		v.Issues = append(v.Issues, Issue{Code: IssueHeaderInvalid, Detail: "header row missing"})
	} else if err := json.Unmarshal([]byte(at(2, 1)), &v.Header); err != nil {
		v.Header = Header{}
		v.Issues = append(v.Issues, Issue{Code: IssueHeaderInvalid, Detail: err.Error()})
	}
	// Without a header the stored codes cannot be recomputed.
	if len(v.Issues) > 0 {
		return v
	}

	if v.Header.StructHash != "" && v.Header.StructHash != s.Fingerprint(doc) {
		v.Issues = append(v.Issues, Issue{Code: IssueStructureChanged})
	}

	main := doc.MainSheet()
	_, maxRow := doc.Dimensions(s.sheet)
	for row := 2; row <= maxRow; row++ {
		ref := strings.TrimSpace(at(1, row))
		if ref == "" {
			break
		}
		addr, err := grid.ParseAddress(ref)
		if err != nil {
			v.Issues = append(v.Issues, Issue{Code: IssueSignatureCorrupt, Detail: fmt.Sprintf("row %d: %q", row, ref)})
			continue
		}
		want, err := hex.DecodeString(at(2, row))
		got, _ := hex.DecodeString(s.code(v.Header.TemplateVersion, main, addr, doc.Value(main, addr)))
		if err != nil || !hmac.Equal(want, got) {
			v.Changed = append(v.Changed, addr)
		}
	}
	sort.Slice(v.Changed, func(i, j int) bool { return v.Changed[i].Less(v.Changed[j]) })
	return v
}

func (s *Signer) code(templateVersion, sheet string, at grid.Address, v workbook.Value) string {
	kind := v.Kind
	if v.IsEmpty() {
		kind = workbook.KindEmpty
	}
	m := hmac.New(sha256.New, s.key)
	fmt.Fprintf(m, "%s|%s!%s|%s|%s", templateVersion, sheet, at, kind, v.Text)
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprint hashes the document structure: sheet names, protection flags,
// sorted validation ranges and header-row text of every sheet except the
// signature and client log sheets.
func (s *Signer) Fingerprint(doc workbook.Document) string {
	var b strings.Builder
	for _, name := range doc.SheetNames() {
		if s.skip[name] {
			continue
		}
		fmt.Fprintf(&b, "[SHEET]%s\n", name)
		fmt.Fprintf(&b, "prot:%t\n", doc.Protected(name))
		dv := doc.Validations(name)
		sort.Strings(dv)
		fmt.Fprintf(&b, "dv:%s\n", strings.Join(dv, "|"))
		maxCol, _ := doc.Dimensions(name)
		row := make([]string, 0, maxCol)
		for col := 1; col <= maxCol; col++ {
			row = append(row, doc.Value(name, grid.Address{Col: col, Row: s.layout.HeaderRow}).Text)
		}
		// Trailing blanks depend on how far other rows extend.
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		fmt.Fprintf(&b, "row1:%s\n", strings.Join(row, "|"))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
