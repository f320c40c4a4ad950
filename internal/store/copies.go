package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/sheetaudit/internal/contenthash"
)

// InsertIssuedCopies records generated copies. A (student, hash) pair
// already present is left untouched.
func (s *Store) InsertIssuedCopies(ctx context.Context, issuedAt time.Time, records ...contenthash.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin issued copies: %w", err)
	}
	defer tx.Rollback()
	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO issued_copies (student_id, last_name, first_name, hash, filename, issued_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(student_id, hash) DO NOTHING`,
			r.StudentID, r.LastName, r.FirstName, r.Hash, r.Filename, formatTime(issuedAt),
		)
		if err != nil {
			return fmt.Errorf("insert issued copy %s: %w", r.StudentID, err)
		}
	}
	return tx.Commit()
}

// IssuedCopies returns every issued copy ordered by insertion.
func (s *Store) IssuedCopies(ctx context.Context) ([]contenthash.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, last_name, first_name, hash, filename FROM issued_copies ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query issued copies: %w", err)
	}
	defer rows.Close()
	var out []contenthash.Record
	for rows.Next() {
		var r contenthash.Record
		if err := rows.Scan(&r.StudentID, &r.LastName, &r.FirstName, &r.Hash, &r.Filename); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Registry builds an official-hash registry from the issued copies.
func (s *Store) Registry(ctx context.Context) (*contenthash.Registry, error) {
	recs, err := s.IssuedCopies(ctx)
	if err != nil {
		return nil, err
	}
	return contenthash.NewRegistry(recs...), nil
}
