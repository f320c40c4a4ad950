package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/sheetaudit/internal/history"
	"github.com/pavelanni/sheetaudit/internal/model"
)

// Export builds the export document for every student with a history.
func (s *Store) Export(ctx context.Context, now time.Time) (*model.Export, error) {
	info, err := s.GetIssueInfo()
	if err != nil {
		return nil, fmt.Errorf("get issue info: %w", err)
	}
	hs := s.History()
	sums, err := hs.Students(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	out := &model.Export{Issue: info, GeneratedAt: now}
	for _, sum := range sums {
		entries, err := hs.Load(ctx, sum.StudentID)
		if err != nil {
			return nil, fmt.Errorf("load history %s: %w", sum.StudentID, err)
		}
		records, err := s.ListAudit(ctx, AuditFilter{StudentID: sum.StudentID})
		if err != nil {
			return nil, fmt.Errorf("list audit %s: %w", sum.StudentID, err)
		}
		se := model.StudentExport{
			StudentID: sum.StudentID,
			Attempts:  len(entries),
			Last:      sum.Last,
			Timeline:  history.BuildTimeline(entries),
			Records:   records,
		}
		if len(entries) > 0 {
			se.Authenticity = model.Authenticity(entries[len(entries)-1].Authenticity)
		}
		out.Students = append(out.Students, se)
	}
	return out, nil
}
