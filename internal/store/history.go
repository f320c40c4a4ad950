package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/sheetaudit/internal/grid"
	"github.com/pavelanni/sheetaudit/internal/history"
)

// HistoryStore is the SQLite history.Store. Entries are ordered by
// insertion id, which follows append order.
type HistoryStore struct {
	s *Store
}

// History returns the store's history view.
func (s *Store) History() *HistoryStore { return &HistoryStore{s: s} }

var _ history.Store = (*HistoryStore)(nil)

// Append inserts one entry.
func (h *HistoryStore) Append(ctx context.Context, studentID string, e history.Entry) error {
	vals, err := json.Marshal(e.Values)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = h.s.db.ExecContext(ctx,
		`INSERT INTO history_entries (student_id, submitted_at, filename, declared_hash, recomputed_hash, authenticity, vals)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		studentID, formatTime(e.Timestamp), e.Filename, e.DeclaredHash, e.RecomputedHash, e.Authenticity, string(vals),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Load returns the student's entries in append order.
func (h *HistoryStore) Load(ctx context.Context, studentID string) ([]history.Entry, error) {
	rows, err := h.s.db.QueryContext(ctx,
		`SELECT submitted_at, filename, declared_hash, recomputed_hash, authenticity, vals
		 FROM history_entries WHERE student_id = ? ORDER BY id`, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	entries := []history.Entry{}
	for rows.Next() {
		var e history.Entry
		var ts, vals string
		if err := rows.Scan(&ts, &e.Filename, &e.DeclaredHash, &e.RecomputedHash, &e.Authenticity, &vals); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		var snap grid.Snapshot
		if err := json.Unmarshal([]byte(vals), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		e.Values = snap
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes every entry of the student.
func (h *HistoryStore) Purge(ctx context.Context, studentID string) (bool, error) {
	res, err := h.s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE student_id = ?`, studentID)
	if err != nil {
		return false, fmt.Errorf("purge history: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Students summarizes stored histories ordered by student id.
func (h *HistoryStore) Students(ctx context.Context) ([]history.Summary, error) {
	rows, err := h.s.db.QueryContext(ctx,
		`SELECT student_id, COUNT(*), MAX(id) FROM history_entries GROUP BY student_id ORDER BY student_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query histories: %w", err)
	}
	type agg struct {
		sum    history.Summary
		lastID int64
	}
	var aggs []agg
	for rows.Next() {
		var a agg
		if err := rows.Scan(&a.sum.StudentID, &a.sum.Count, &a.lastID); err != nil {
			rows.Close()
			return nil, err
		}
		aggs = append(aggs, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]history.Summary, 0, len(aggs))
	for _, a := range aggs {
		var ts string
		if err := h.s.db.QueryRowContext(ctx, `SELECT submitted_at FROM history_entries WHERE id = ?`, a.lastID).Scan(&ts); err != nil {
			return nil, fmt.Errorf("query last entry: %w", err)
		}
		last, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		a.sum.Last = last
		out = append(out, a.sum)
	}
	return out, nil
}
