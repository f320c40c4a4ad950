package workbook

import (
	"fmt"
	"sort"

	"github.com/pavelanni/sheetaudit/internal/grid"
)

// Book is an in-memory Document.
type Book struct {
	order  []string
	sheets map[string]*sheet
}

type sheet struct {
	cells       map[grid.Address]Value
	protected   bool
	unlocked    map[grid.Address]bool
	validations []string
	hidden      bool
}

// NewBook creates a book whose first sheet is main.
func NewBook(main string) *Book {
	b := &Book{sheets: make(map[string]*sheet)}
	b.AddSheet(main)
	return b
}

// AddSheet appends a visible sheet if it does not exist yet.
func (b *Book) AddSheet(name string) {
	if _, ok := b.sheets[name]; ok {
		return
	}
	b.order = append(b.order, name)
	b.sheets[name] = &sheet{cells: make(map[grid.Address]Value)}
}

// RenameSheet renames a sheet in place, keeping its position.
func (b *Book) RenameSheet(from, to string) error {
	sh, ok := b.sheets[from]
	if !ok {
		return fmt.Errorf("sheet %q not found", from)
	}
	if _, exists := b.sheets[to]; exists {
		return fmt.Errorf("sheet %q already exists", to)
	}
	delete(b.sheets, from)
	b.sheets[to] = sh
	for i, n := range b.order {
		if n == from {
			b.order[i] = to
		}
	}
	return nil
}

// DeleteSheet removes a sheet.
func (b *Book) DeleteSheet(name string) {
	if _, ok := b.sheets[name]; !ok {
		return
	}
	delete(b.sheets, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// AddValidation registers a data validation range on a sheet.
func (b *Book) AddValidation(sheetName, sqref string) {
	if sh, ok := b.sheets[sheetName]; ok {
		sh.validations = append(sh.validations, sqref)
	}
}

// Set is SetValue with a string value, for fixtures.
func (b *Book) Set(sheetName, ref string, text string) {
	_ = b.SetValue(sheetName, grid.MustParseAddress(ref), String(text))
}

// Hidden reports whether the sheet was added as hidden.
func (b *Book) Hidden(name string) bool {
	sh, ok := b.sheets[name]
	return ok && sh.hidden
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	c := &Book{order: append([]string(nil), b.order...), sheets: make(map[string]*sheet, len(b.sheets))}
	for name, sh := range b.sheets {
		cp := &sheet{
			cells:       make(map[grid.Address]Value, len(sh.cells)),
			protected:   sh.protected,
			unlocked:    make(map[grid.Address]bool, len(sh.unlocked)),
			validations: append([]string(nil), sh.validations...),
			hidden:      sh.hidden,
		}
		for k, v := range sh.cells {
			cp.cells[k] = v
		}
		for k, v := range sh.unlocked {
			cp.unlocked[k] = v
		}
		c.sheets[name] = cp
	}
	return c
}

func (b *Book) SheetNames() []string { return append([]string(nil), b.order...) }

func (b *Book) HasSheet(name string) bool {
	_, ok := b.sheets[name]
	return ok
}

func (b *Book) MainSheet() string {
	if len(b.order) == 0 {
		return ""
	}
	return b.order[0]
}

func (b *Book) Value(sheetName string, at grid.Address) Value {
	sh, ok := b.sheets[sheetName]
	if !ok {
		return Value{Kind: KindEmpty}
	}
	v, ok := sh.cells[at]
	if !ok {
		return Value{Kind: KindEmpty}
	}
	return v
}

func (b *Book) SetValue(sheetName string, at grid.Address, v Value) error {
	sh, ok := b.sheets[sheetName]
	if !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	if v.IsEmpty() {
		delete(sh.cells, at)
		return nil
	}
	sh.cells[at] = v
	return nil
}

func (b *Book) Dimensions(sheetName string) (int, int) {
	sh, ok := b.sheets[sheetName]
	if !ok {
		return 0, 0
	}
	maxCol, maxRow := 0, 0
	for a := range sh.cells {
		if a.Col > maxCol {
			maxCol = a.Col
		}
		if a.Row > maxRow {
			maxRow = a.Row
		}
	}
	return maxCol, maxRow
}

func (b *Book) Protected(sheetName string) bool {
	sh, ok := b.sheets[sheetName]
	return ok && sh.protected
}

func (b *Book) Protect(sheetName string, unlocked []grid.Address) error {
	sh, ok := b.sheets[sheetName]
	if !ok {
		return fmt.Errorf("sheet %q not found", sheetName)
	}
	sh.protected = true
	sh.unlocked = make(map[grid.Address]bool, len(unlocked))
	for _, a := range unlocked {
		sh.unlocked[a] = true
	}
	return nil
}

// Unlocked reports whether a cell stays editable under protection.
func (b *Book) Unlocked(sheetName string, at grid.Address) bool {
	sh, ok := b.sheets[sheetName]
	return ok && sh.unlocked[at]
}

// Unprotect clears sheet protection.
func (b *Book) Unprotect(sheetName string) {
	if sh, ok := b.sheets[sheetName]; ok {
		sh.protected = false
	}
}

func (b *Book) Validations(sheetName string) []string {
	sh, ok := b.sheets[sheetName]
	if !ok {
		return nil
	}
	out := append([]string(nil), sh.validations...)
	sort.Strings(out)
	return out
}

func (b *Book) AddHiddenSheet(name string) error {
	b.AddSheet(name)
	b.sheets[name].hidden = true
	return nil
}
