// Package workbook defines the spreadsheet document collaborator used by the
// integrity engine, with an in-memory implementation and an xlsx adapter.
package workbook

import (
	"strconv"
	"strings"

	"github.com/pavelanni/sheetaudit/internal/grid"
)

// Kind is the type tag of a cell value. It participates in cell signatures,
// so the string forms must never change.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Value is a typed cell value carried as its string form.
type Value struct {
	Kind Kind
	Text string
}

// String builds a string value; an empty string is an empty cell.
func String(s string) Value {
	if s == "" {
		return Value{Kind: KindEmpty}
	}
	return Value{Kind: KindString, Text: s}
}

// Number builds a numeric value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Bool builds a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{Kind: KindBool, Text: "TRUE"}
	}
	return Value{Kind: KindBool, Text: "FALSE"}
}

// IsEmpty reports whether the cell holds nothing at all.
func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty || v.Kind == "" && v.Text == ""
}

// Document is the capability the engine needs from a spreadsheet: named
// sheets, typed cell access, structural metadata and hidden sheets.
type Document interface {
	SheetNames() []string
	HasSheet(name string) bool
	MainSheet() string
	Value(sheet string, at grid.Address) Value
	SetValue(sheet string, at grid.Address, v Value) error
	// Dimensions returns the highest used column and row of a sheet.
	Dimensions(sheet string) (maxCol, maxRow int)
	Protected(sheet string) bool
	Protect(sheet string, unlocked []grid.Address) error
	// Validations returns the ranges covered by data validation rules.
	Validations(sheet string) []string
	// AddHiddenSheet creates a very-hidden sheet unless it already exists.
	AddHiddenSheet(name string) error
}

// SheetGrid adapts one sheet of a document to grid.Grid.
func SheetGrid(doc Document, sheet string) grid.Grid {
	return sheetGrid{doc: doc, sheet: sheet}
}

type sheetGrid struct {
	doc   Document
	sheet string
}

func (g sheetGrid) Get(col, row int) string {
	return g.doc.Value(g.sheet, grid.Address{Col: col, Row: row}).Text
}

// ReadText returns the trimmed text of a cell.
func ReadText(doc Document, sheet string, at grid.Address) string {
	return strings.TrimSpace(doc.Value(sheet, at).Text)
}
