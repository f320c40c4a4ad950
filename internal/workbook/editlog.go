package workbook

import (
	"strings"
	"time"

	"github.com/pavelanni/sheetaudit/internal/grid"
)

// EditLogSheet is the conventional name of the sheet a client-side macro
// appends edit events to.
const EditLogSheet = "_editlog"

// EditEvent is one change recorded by the client inside the document.
type EditEvent struct {
	Timestamp time.Time
	Cell      grid.Address
	Old       string
	New       string
}

// ReadEditLog recovers the embedded edit log: one event per row, columns
// timestamp | address | old | new. An optional header row is skipped, as are
// rows whose address does not parse. A missing sheet yields no events.
func ReadEditLog(doc Document, sheet string) []EditEvent {
	if !doc.HasSheet(sheet) {
		return nil
	}
	_, maxRow := doc.Dimensions(sheet)
	var events []EditEvent
	for row := 1; row <= maxRow; row++ {
		ts := ReadText(doc, sheet, grid.Address{Col: 1, Row: row})
		ref := ReadText(doc, sheet, grid.Address{Col: 2, Row: row})
		if row == 1 && strings.EqualFold(ts, "timestamp") {
			continue
		}
		addr, err := grid.ParseAddress(ref)
		if err != nil {
			continue
		}
		events = append(events, EditEvent{
			Timestamp: parseLogTime(ts),
			Cell:      addr,
			Old:       doc.Value(sheet, grid.Address{Col: 3, Row: row}).Text,
			New:       doc.Value(sheet, grid.Address{Col: 4, Row: row}).Text,
		})
	}
	return events
}

var logTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

func parseLogTime(s string) time.Time {
	for _, layout := range logTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
