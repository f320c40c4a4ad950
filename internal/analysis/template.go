package analysis

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

var (
	// ErrUnreadableDocument means a submission could not be opened.
	ErrUnreadableDocument = errors.New("unreadable document")
	// ErrUnreadableTemplate means the answer template could not be opened
	// or carries no question.
	ErrUnreadableTemplate = errors.New("unreadable template")
)

// Template is the professor's answer template, copied out of its document
// so it can be shared read-only across analyses.
type Template struct {
	Grid      grid.Map
	Questions grid.Questions
	// LastRow is the last used row of the template sheet.
	LastRow int
}

// LoadTemplate reads the main sheet of doc. Only the answer columns and the
// header row are kept.
func LoadTemplate(doc workbook.Document, l grid.Layout) (*Template, error) {
	if doc == nil {
		return nil, ErrUnreadableTemplate
	}
	main := doc.MainSheet()
	if main == "" || !doc.HasSheet(main) {
		return nil, fmt.Errorf("%w: no main sheet", ErrUnreadableTemplate)
	}
	_, maxRow := doc.Dimensions(main)
	t := &Template{Grid: make(grid.Map), LastRow: maxRow}
	for row := 1; row <= maxRow; row++ {
		for col := l.FirstCol; col <= l.LastCol; col++ {
			at := grid.Address{Col: col, Row: row}
			if v := doc.Value(main, at); !v.IsEmpty() {
				t.Grid[at] = v.Text
			}
		}
	}
	t.Questions = grid.ReadQuestions(t.Grid, l)
	if len(t.Questions) == 0 {
		return nil, fmt.Errorf("%w: no question in the header row", ErrUnreadableTemplate)
	}
	return t, nil
}

// OpenTemplate loads a template from an xlsx file.
func OpenTemplate(path string, l grid.Layout) (*Template, error) {
	x, err := workbook.OpenXLSX(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableTemplate, err)
	}
	defer x.Close()
	return LoadTemplate(x, l)
}

// Submission is one uploaded document.
type Submission struct {
	Filename string
	Doc      workbook.Document
	// ReceivedAt stamps the analysis; the analyzer clock is used when zero.
	ReceivedAt time.Time
}

// OpenSubmission opens an xlsx submission. The caller closes the returned
// document through Close.
func OpenSubmission(path string) (Submission, error) {
	x, err := workbook.OpenXLSX(path)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %s: %v", ErrUnreadableDocument, filepath.Base(path), err)
	}
	return Submission{Filename: filepath.Base(path), Doc: x}, nil
}

// ReadSubmission reads an xlsx submission from r.
func ReadSubmission(filename string, r io.Reader) (Submission, error) {
	x, err := workbook.ReadXLSX(r)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %s: %v", ErrUnreadableDocument, filename, err)
	}
	return Submission{Filename: filepath.Base(filename), Doc: x}, nil
}

// Close releases the document when it holds resources.
func (s Submission) Close() error {
	if c, ok := s.Doc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
