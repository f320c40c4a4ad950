package model

import (
	"time"

	"github.com/pavelanni/sheetaudit/internal/audit"
	"github.com/pavelanni/sheetaudit/internal/history"
)

// Export is the top-level JSON structure of an audit export.
type Export struct {
	Issue       IssueInfo       `json:"issue"`
	GeneratedAt time.Time       `json:"generated_at"`
	Students    []StudentExport `json:"students"`
}

// StudentExport holds one student's submissions and ledger rows.
type StudentExport struct {
	StudentID    string           `json:"student_id"`
	Attempts     int              `json:"attempts"`
	Last         time.Time        `json:"last"`
	Authenticity Authenticity     `json:"authenticity"`
	Timeline     history.Timeline `json:"timeline"`
	Records      []audit.Record   `json:"records"`
}
