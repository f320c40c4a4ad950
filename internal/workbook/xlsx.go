package workbook

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/sheetaudit/internal/grid"
)

// XLSX is a Document backed by an excelize workbook. Parts excelize does not
// model (macros, custom XML) are carried through on save.
type XLSX struct {
	f         *excelize.File
	protected map[string]bool
}

// OpenXLSX opens a workbook from disk.
func OpenXLSX(filename string) (*XLSX, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	return ReadXLSX(bytes.NewReader(data))
}

// ReadXLSX opens a workbook from a reader.
func ReadXLSX(r io.Reader) (*XLSX, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}
	protected, err := scanProtection(data)
	if err != nil {
		return nil, fmt.Errorf("scan workbook package: %w", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &XLSX{f: f, protected: protected}, nil
}

// NewXLSX returns an empty workbook with a single sheet named main.
func NewXLSX(main string) (*XLSX, error) {
	f := excelize.NewFile()
	if main != "Sheet1" {
		if err := f.SetSheetName("Sheet1", main); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}
	return &XLSX{f: f, protected: make(map[string]bool)}, nil
}

// File exposes the underlying excelize workbook.
func (x *XLSX) File() *excelize.File { return x.f }

// SaveAs writes the workbook to filename.
func (x *XLSX) SaveAs(filename string) error {
	if err := x.f.SaveAs(filename); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Write serializes the workbook to w.
func (x *XLSX) Write(w io.Writer) error {
	if err := x.f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Close releases temporary files held by excelize.
func (x *XLSX) Close() error {
	return x.f.Close()
}

func (x *XLSX) SheetNames() []string { return x.f.GetSheetList() }

func (x *XLSX) HasSheet(name string) bool {
	idx, err := x.f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

func (x *XLSX) MainSheet() string {
	if name := x.f.GetSheetName(x.f.GetActiveSheetIndex()); name != "" {
		return name
	}
	if list := x.f.GetSheetList(); len(list) > 0 {
		return list[0]
	}
	return ""
}

func (x *XLSX) Value(sheet string, at grid.Address) Value {
	ref := at.String()
	raw, err := x.f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	if err != nil || raw == "" {
		return Value{Kind: KindEmpty}
	}
	typ, err := x.f.GetCellType(sheet, ref)
	if err != nil {
		return Value{Kind: KindString, Text: raw}
	}
	switch typ {
	case excelize.CellTypeBool:
		return Bool(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		return Value{Kind: KindNumber, Text: raw}
	default:
		return Value{Kind: KindString, Text: raw}
	}
}

func (x *XLSX) SetValue(sheet string, at grid.Address, v Value) error {
	ref := at.String()
	var err error
	switch v.Kind {
	case KindEmpty, "":
		err = x.f.SetCellValue(sheet, ref, nil)
	case KindBool:
		err = x.f.SetCellBool(sheet, ref, v.Text == "TRUE")
	case KindNumber:
		err = x.f.SetCellDefault(sheet, ref, v.Text)
	default:
		err = x.f.SetCellStr(sheet, ref, v.Text)
	}
	if err != nil {
		return fmt.Errorf("set %s!%s: %w", sheet, ref, err)
	}
	return nil
}

func (x *XLSX) Dimensions(sheet string) (int, int) {
	rows, err := x.f.GetRows(sheet)
	if err != nil {
		return 0, 0
	}
	maxCol := 0
	for _, r := range rows {
		if len(r) > maxCol {
			maxCol = len(r)
		}
	}
	return maxCol, len(rows)
}

func (x *XLSX) Protected(sheet string) bool { return x.protected[sheet] }

// Protect locks the sheet, leaving the given cells editable.
func (x *XLSX) Protect(sheet string, unlocked []grid.Address) error {
	if len(unlocked) > 0 {
		style, err := x.f.NewStyle(&excelize.Style{Protection: &excelize.Protection{Locked: false}})
		if err != nil {
			return fmt.Errorf("create unlocked style: %w", err)
		}
		for _, a := range unlocked {
			ref := a.String()
			if err := x.f.SetCellStyle(sheet, ref, ref, style); err != nil {
				return fmt.Errorf("unlock %s: %w", ref, err)
			}
		}
	}
	err := x.f.ProtectSheet(sheet, &excelize.SheetProtectionOptions{
		SelectLockedCells:   false,
		SelectUnlockedCells: true,
	})
	if err != nil {
		return fmt.Errorf("protect sheet: %w", err)
	}
	x.protected[sheet] = true
	return nil
}

// HideColumn hides a column of a sheet.
func (x *XLSX) HideColumn(sheet string, col int) error {
	if err := x.f.SetColVisible(sheet, grid.ColumnName(col), false); err != nil {
		return fmt.Errorf("hide column: %w", err)
	}
	return nil
}

func (x *XLSX) Validations(sheet string) []string {
	dvs, err := x.f.GetDataValidations(sheet)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(dvs))
	for _, dv := range dvs {
		out = append(out, dv.Sqref)
	}
	return out
}

func (x *XLSX) AddHiddenSheet(name string) error {
	if !x.HasSheet(name) {
		if _, err := x.f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}
	}
	if err := x.f.SetSheetVisible(name, false, true); err != nil {
		return fmt.Errorf("hide sheet %q: %w", name, err)
	}
	return nil
}

// ColumnHider is implemented by documents that can hide a column.
type ColumnHider interface {
	HideColumn(sheet string, col int) error
}

type pkgWorkbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type pkgRels struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// scanProtection reports which sheets carry a sheetProtection element.
// excelize can write protection but has no reader for it.
func scanProtection(data []byte) (map[string]bool, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[strings.TrimPrefix(f.Name, "/")] = f
	}

	var wb pkgWorkbook
	if err := decodePart(parts["xl/workbook.xml"], &wb); err != nil {
		return nil, fmt.Errorf("workbook.xml: %w", err)
	}
	var rels pkgRels
	if err := decodePart(parts["xl/_rels/workbook.xml.rels"], &rels); err != nil {
		return nil, fmt.Errorf("workbook rels: %w", err)
	}
	targets := make(map[string]string, len(rels.Relationships))
	for _, r := range rels.Relationships {
		t := r.Target
		if strings.HasPrefix(t, "/") {
			t = strings.TrimPrefix(t, "/")
		} else {
			t = path.Join("xl", t)
		}
		targets[r.ID] = t
	}

	out := make(map[string]bool, len(wb.Sheets))
	for _, s := range wb.Sheets {
		part, ok := parts[targets[s.RID]]
		if !ok {
			continue
		}
		body, err := readPart(part)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", s.Name, err)
		}
		out[s.Name] = bytes.Contains(body, []byte("<sheetProtection"))
	}
	return out, nil
}

func decodePart(f *zip.File, v any) error {
	if f == nil {
		return fmt.Errorf("part missing")
	}
	body, err := readPart(f)
	if err != nil {
		return err
	}
	return xml.Unmarshal(body, v)
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
