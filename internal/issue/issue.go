// Package issue generates the personalized copies handed out to students:
// identity cells, content hash, protection and cell signatures.
package issue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/signature"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

// ErrNoSigner means copies were requested without a signing key.
var ErrNoSigner = errors.New("no signing key configured")

// Config locates the identity cells and names the template version stamped
// into every signature.
type Config struct {
	Layout          grid.Layout
	IDCell          grid.Address
	HashCell        grid.Address
	TemplateVersion string
}

// Issuer prepares copies. It is safe for concurrent use.
type Issuer struct {
	cfg    Config
	signer *signature.Signer
	hasher contenthash.Hasher
	logger *slog.Logger
}

func New(cfg Config, signer *signature.Signer, logger *slog.Logger) (*Issuer, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TemplateVersion == "" {
		cfg.TemplateVersion = "v1"
	}
	return &Issuer{cfg: cfg, signer: signer, hasher: contenthash.NewHasher(cfg.HashCell), logger: logger}, nil
}

// Prepare personalizes doc for st in place and returns the issued-copy
// record. The hash is computed after the id is written, so it covers the id
// cell and the whole template content.
func (is *Issuer) Prepare(doc workbook.Document, st Student) (contenthash.Record, error) {
	main := doc.MainSheet()
	if main == "" {
		return contenthash.Record{}, fmt.Errorf("template has no sheet")
	}
	if err := doc.SetValue(main, is.cfg.IDCell, workbook.String(st.ID)); err != nil {
		return contenthash.Record{}, fmt.Errorf("write student id: %w", err)
	}
	hash := is.hasher.Sum(doc, st.ID)
	if err := doc.SetValue(main, is.cfg.HashCell, workbook.String(hash)); err != nil {
		return contenthash.Record{}, fmt.Errorf("write content hash: %w", err)
	}
	if h, ok := doc.(workbook.ColumnHider); ok {
		if err := h.HideColumn(main, is.cfg.IDCell.Col); err != nil {
			return contenthash.Record{}, err
		}
	}
	if err := doc.Protect(main, is.answerCells(doc, main)); err != nil {
		return contenthash.Record{}, fmt.Errorf("protect sheet: %w", err)
	}
	if _, err := is.signer.Sign(doc, is.cfg.TemplateVersion, st.ID); err != nil {
		return contenthash.Record{}, fmt.Errorf("sign: %w", err)
	}
	return contenthash.Record{
		StudentID: st.ID,
		LastName:  st.LastName,
		FirstName: st.FirstName,
		Hash:      hash,
		Filename:  Filename(st),
	}, nil
}

// answerCells lists every cell of the answer columns below the header row.
func (is *Issuer) answerCells(doc workbook.Document, main string) []grid.Address {
	l := is.cfg.Layout
	_, maxRow := doc.Dimensions(main)
	last := max(maxRow, l.HeaderRow+1)
	var out []grid.Address
	for row := l.HeaderRow + 1; row <= last; row++ {
		for col := l.FirstCol; col <= l.LastCol; col++ {
			out = append(out, grid.Address{Col: col, Row: row})
		}
	}
	return out
}

// Filename is the name of the copy issued to st.
func Filename(st Student) string {
	parts := []string{st.ID, st.LastName, st.FirstName}
	for i, p := range parts {
		parts[i] = sanitize(p)
	}
	return strings.Join(parts, "_") + ".xlsx"
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		case ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(s))
}

// Options bound a batch run.
type Options struct {
	OutDir string
	// Limit caps concurrent copies; no cap when <= 0.
	Limit int
	Now   func() time.Time
}

// IssueAll writes one copy of the xlsx template per student into
// opts.OutDir. Records come back in roster order; a failed copy is reported
// in the joined error and left out of the records.
func (is *Issuer) IssueAll(ctx context.Context, template []byte, roster []Student, opts Options) ([]contenthash.Record, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	recs := make([]contenthash.Record, len(roster))
	errs := make([]error, len(roster))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}
	for i, st := range roster {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			rec, err := is.issueOne(template, st, opts.OutDir)
			if err != nil {
				errs[i] = fmt.Errorf("student %s: %w", st.ID, err)
				is.logger.Warn("copy not issued", "student", st.ID, "error", err)
				return nil
			}
			recs[i] = rec
			is.logger.Info("copy issued", "student", st.ID, "file", rec.Filename)
			return nil
		})
	}
	_ = g.Wait()

	var out []contenthash.Record
	for i, r := range recs {
		if errs[i] == nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

func (is *Issuer) issueOne(template []byte, st Student, outDir string) (contenthash.Record, error) {
	doc, err := workbook.ReadXLSX(bytes.NewReader(template))
	if err != nil {
		return contenthash.Record{}, err
	}
	defer doc.Close()
	rec, err := is.Prepare(doc, st)
	if err != nil {
		return contenthash.Record{}, err
	}
	if err := doc.SaveAs(filepath.Join(outDir, rec.Filename)); err != nil {
		return contenthash.Record{}, err
	}
	return rec, nil
}
