package store

import (
	"database/sql"
	"strconv"

	"github.com/pavelanni/sheetaudit/internal/model"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetIssueInfo stores all IssueInfo fields as metadata rows.
func (s *Store) SetIssueInfo(info model.IssueInfo) error {
	pairs := []struct{ k, v string }{
		{"template_version", info.TemplateVersion},
		{"class", info.Class},
		{"issued_at", formatTime(info.IssuedAt)},
		{"copies", strconv.Itoa(info.Copies)},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetIssueInfo reads all IssueInfo fields from metadata.
func (s *Store) GetIssueInfo() (model.IssueInfo, error) {
	var info model.IssueInfo
	var err error

	if info.TemplateVersion, err = s.GetMetadata("template_version"); err != nil {
		return info, err
	}
	if info.Class, err = s.GetMetadata("class"); err != nil {
		return info, err
	}
	at, err := s.GetMetadata("issued_at")
	if err != nil {
		return info, err
	}
	if at != "" {
		if info.IssuedAt, err = parseTime(at); err != nil {
			return info, err
		}
	}
	n, err := s.GetMetadata("copies")
	if err != nil {
		return info, err
	}
	if n != "" {
		info.Copies, err = strconv.Atoi(n)
		if err != nil {
			return info, err
		}
	}
	return info, nil
}
