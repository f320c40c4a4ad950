// Package contenthash computes the whole-document content hash embedded in
// issued copies and keeps the registry of officially issued hashes.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/workbook"
)

// Hasher hashes the main sheet of a document. The cell holding the declared
// hash is left out so an untouched issued copy re-hashes to the value it
// carries.
type Hasher struct {
	HashCell grid.Address
}

// NewHasher returns a Hasher that skips hashCell.
func NewHasher(hashCell grid.Address) Hasher {
	return Hasher{HashCell: hashCell}
}

// Sum returns the hex SHA-256 of studentID followed by every non-empty value
// of the main sheet in row-major order.
func (h Hasher) Sum(doc workbook.Document, studentID string) string {
	main := doc.MainSheet()
	maxCol, maxRow := doc.Dimensions(main)
	d := sha256.New()
	d.Write([]byte(studentID))
	for row := 1; row <= maxRow; row++ {
		for col := 1; col <= maxCol; col++ {
			at := grid.Address{Col: col, Row: row}
			if at == h.HashCell {
				continue
			}
			v := doc.Value(main, at)
			if v.IsEmpty() {
				continue
			}
			d.Write([]byte(v.Text))
		}
	}
	return hex.EncodeToString(d.Sum(nil))
}

// ExpectedID extracts the student id encoded in a submitted filename of the
// form "<anything>__<ID>_<rest>". It returns "" when the filename carries none.
func ExpectedID(filename string) string {
	_, after, ok := strings.Cut(filename, "__")
	if !ok {
		return ""
	}
	id, _, found := strings.Cut(after, "_")
	if !found {
		// "<prefix>__<ID>.xlsx"
		id = strings.TrimSuffix(id, path.Ext(id))
	}
	return strings.TrimSpace(id)
}
