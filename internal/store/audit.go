package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/detect"
	"github.com/pavelanni/sheetaudit/internal/diff"
	"github.com/pavelanni/sheetaudit/internal/grid"
)

// AuditLedger is the SQLite audit.Ledger.
type AuditLedger struct {
	s *Store
}

// Ledger returns the store's audit ledger view.
func (s *Store) Ledger() *AuditLedger { return &AuditLedger{s: s} }

var _ audit.Ledger = (*AuditLedger)(nil)

// Append inserts records in one transaction.
func (l *AuditLedger) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO audit_records (analysis_id, recorded_at, since_previous_ms, filename, student_id, cell, question,
			prior_value, template_value, student_value, source, action, verdict_class, verdict_rule, confidence,
			reason, signals, declared_hash, recomputed_hash, attempt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare audit append: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var since sql.NullInt64
		if r.HasPrevious {
			since = sql.NullInt64{Int64: r.SincePrevious.Milliseconds(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			r.AnalysisID, formatTime(r.Timestamp), since, r.Filename, r.StudentID, r.Cell.String(), r.Question,
			r.Prior, r.Template, r.Student, string(r.Source), string(r.Action), string(r.Verdict.Class),
			string(r.Verdict.Rule), r.Verdict.Confidence, r.Verdict.Reason, strings.Join(r.Verdict.Signals, ","),
			r.DeclaredHash, r.RecomputedHash, r.Attempt,
		)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return tx.Commit()
}

// AuditFilter narrows ListAudit. Zero fields do not filter.
type AuditFilter struct {
	StudentID  string
	AnalysisID string
	Source     audit.Source
}

// ListAudit returns matching records in append order.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]audit.Record, error) {
	query := `SELECT analysis_id, recorded_at, since_previous_ms, filename, student_id, cell, question,
		prior_value, template_value, student_value, source, action, verdict_class, verdict_rule, confidence,
		reason, signals, declared_hash, recomputed_hash, attempt
		FROM audit_records WHERE 1=1`
	var args []any
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.AnalysisID != "" {
		query += ` AND analysis_id = ?`
		args = append(args, f.AnalysisID)
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()
	var out []audit.Record
	for rows.Next() {
		var (
			r                     audit.Record
			ts, cell, src, action string
			class, rule, signals  string
			since                 sql.NullInt64
		)
		if err := rows.Scan(&r.AnalysisID, &ts, &since, &r.Filename, &r.StudentID, &cell, &r.Question,
			&r.Prior, &r.Template, &r.Student, &src, &action, &class, &rule, &r.Verdict.Confidence,
			&r.Verdict.Reason, &signals, &r.DeclaredHash, &r.RecomputedHash, &r.Attempt); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if r.Cell, err = grid.ParseAddress(cell); err != nil {
			return nil, fmt.Errorf("audit record cell: %w", err)
		}
		if since.Valid {
			r.HasPrevious = true
			r.SincePrevious = time.Duration(since.Int64) * time.Millisecond
		}
		r.Source = audit.Source(src)
		r.Action = diff.Action(action)
		r.Verdict.Class = detect.Class(class)
		r.Verdict.Rule = detect.Rule(rule)
		if signals != "" {
			r.Verdict.Signals = strings.Split(signals, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditCount returns the number of ledger rows.
func (s *Store) AuditCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n)
	return n, err
}
