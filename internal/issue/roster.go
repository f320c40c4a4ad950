package issue

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Student is one roster row.
type Student struct {
	ID        string
	LastName  string
	FirstName string
}

var rosterAliases = map[string]string{
	"id":          "id",
	"student_id":  "id",
	"id_etudiant": "id",
	"last_name":   "last",
	"nom":         "last",
	"first_name":  "first",
	"prenom":      "first",
	"prénom":      "first",
}

// ReadRoster parses a roster CSV with a header row naming the id, last name
// and first name columns. Comma and semicolon separators are accepted. Rows
// without an id are skipped; a repeated id is an error.
func ReadRoster(r io.Reader) ([]Student, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	if first, _, _ := strings.Cut(text, "\n"); strings.Count(first, ";") > strings.Count(first, ",") {
		cr.Comma = ';'
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("roster is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	idx := make(map[string]int)
	for i, name := range header {
		if canon, ok := rosterAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			idx[canon] = i
		}
	}
	if _, ok := idx["id"]; !ok {
		return nil, fmt.Errorf("roster has no id column")
	}
	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Student
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster line %d: %w", line, err)
		}
		st := Student{ID: field(row, "id"), LastName: field(row, "last"), FirstName: field(row, "first")}
		if st.ID == "" {
			continue
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("roster line %d: duplicate id %s", line, st.ID)
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	return out, nil
}
