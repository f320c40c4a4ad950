// Package grid provides the addressable answer-grid abstraction shared by the
// signer, the differ and the detector. It is independent of any spreadsheet
// library: a Grid is anything that can return the string value of a 1-based
// (column, row) cell.
package grid

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Address is a 1-based (column, row) cell coordinate.
type Address struct {
	Col int
	Row int
}

// String renders the address in A1 notation.
func (a Address) String() string {
	return ColumnName(a.Col) + fmt.Sprint(a.Row)
}

// Less orders addresses row-major.
func (a Address) Less(b Address) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

// MarshalText encodes the address in A1 notation.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an A1 reference.
func (a *Address) UnmarshalText(b []byte) error {
	p, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

// ParseAddress parses an A1-style reference such as "C2" or "aa10".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && unicode.IsLetter(rune(s[i])) {
		i++
	}
	if i == 0 || i == len(s) {
		return Address{}, fmt.Errorf("invalid cell reference %q", s)
	}
	col, err := ColumnIndex(s[:i])
	if err != nil {
		return Address{}, err
	}
	row := 0
	for _, r := range s[i:] {
		if r < '0' || r > '9' {
			return Address{}, fmt.Errorf("invalid cell reference %q", s)
		}
		row = row*10 + int(r-'0')
	}
	if row < 1 {
		return Address{}, fmt.Errorf("invalid row in cell reference %q", s)
	}
	return Address{Col: col, Row: row}, nil
}

// MustParseAddress is ParseAddress for constants; it panics on bad input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ColumnName converts a 1-based column index to its letter name (1 -> "A", 27 -> "AA").
func ColumnName(col int) string {
	if col < 1 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// ColumnIndex converts a column letter name to its 1-based index.
func ColumnIndex(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty column name")
	}
	n := 0
	for _, r := range strings.ToUpper(name) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column name %q", name)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n, nil
}

// Grid is a read-only view over cell values.
type Grid interface {
	Get(col, row int) string
}

// Map is an in-memory Grid keyed by address.
type Map map[Address]string

// Get implements Grid.
func (m Map) Get(col, row int) string {
	return m[Address{Col: col, Row: row}]
}

// IsBlank reports whether a cell value counts as empty. Whitespace-only cells
// are empty.
func IsBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}

// Layout describes where answers live in a document.
type Layout struct {
	FirstCol  int // first answer column (C)
	LastCol   int // last answer column (Y)
	HeaderRow int // row holding question text
	FirstRow  int // first answer row
	MinRows   int // answer rows covered even when the sheet is shorter
}

// DefaultLayout matches the issued workbook: questions in C1:Y1, answers from row 2.
func DefaultLayout() Layout {
	return Layout{FirstCol: 3, LastCol: 25, HeaderRow: 1, FirstRow: 2, MinRows: 1}
}

// LastRow returns the last answer row given the sheet's used row count.
func (l Layout) LastRow(maxRow int) int {
	last := l.FirstRow + l.MinRows - 1
	if maxRow > last {
		last = maxRow
	}
	return last
}

// Questions maps active column index to question text.
type Questions map[int]string

// ReadQuestions collects question text from the header row; columns with blank
// headers are inactive and left out.
func ReadQuestions(g Grid, l Layout) Questions {
	q := make(Questions)
	for col := l.FirstCol; col <= l.LastCol; col++ {
		text := strings.TrimSpace(g.Get(col, l.HeaderRow))
		if text != "" {
			q[col] = text
		}
	}
	return q
}

// Active reports whether col carries a question.
func (q Questions) Active(col int) bool {
	_, ok := q[col]
	return ok
}

// Columns returns the active columns in ascending order.
func (q Questions) Columns() []int {
	cols := make([]int, 0, len(q))
	for c := range q {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// Snapshot maps an A1 address to its string value. Snapshots are restricted to
// the active grid.
type Snapshot map[string]string

// TakeSnapshot captures the active grid of g for rows first..last.
func TakeSnapshot(g Grid, q Questions, first, last int) Snapshot {
	s := make(Snapshot)
	cols := q.Columns()
	for row := first; row <= last; row++ {
		for _, col := range cols {
			s[Address{Col: col, Row: row}.String()] = g.Get(col, row)
		}
	}
	return s
}

// SortedAddresses returns the addresses in s ordered row-major. Keys that do
// not parse sort last in lexical order.
func SortedAddresses(keys ...map[string]string) []string {
	seen := make(map[string]struct{})
	for _, m := range keys {
		for k := range m {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	SortAddressStrings(out)
	return out
}

// SortAddressStrings sorts A1 strings row-major in place.
func SortAddressStrings(addrs []string) {
	sort.Slice(addrs, func(i, j int) bool {
		a, errA := ParseAddress(addrs[i])
		b, errB := ParseAddress(addrs[j])
		switch {
		case errA != nil && errB != nil:
			return addrs[i] < addrs[j]
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return a.Less(b)
	})
}
