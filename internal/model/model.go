// Package model holds the plain records shared by the store, the command
// line and the HTTP surface.
package model

import "time"

// IssueInfo describes the last batch of issued copies.
type IssueInfo struct {
	TemplateVersion string    `json:"template_version"`
	Class           string    `json:"class"`
	IssuedAt        time.Time `json:"issued_at"`
	Copies          int       `json:"copies"`
}

// Authenticity is the verdict on whether a submission derives from an
// issued copy.
type Authenticity string

const (
	// AuthenticityCritical means the declared id or hash is missing.
	AuthenticityCritical Authenticity = "critical"
	// AuthenticityMismatch means the declared id differs from the id the
	// filename encodes.
	AuthenticityMismatch Authenticity = "mismatch"
	// AuthenticityOfficialClean is an issued copy with unchanged content.
	AuthenticityOfficialClean Authenticity = "official_clean"
	// AuthenticityOfficialThenEdited is an issued copy whose content was
	// then edited, the normal case for a filled-in copy.
	AuthenticityOfficialThenEdited Authenticity = "official_then_edited"
	// AuthenticitySelfConsistent is internally consistent but was never
	// issued to this student.
	AuthenticitySelfConsistent Authenticity = "self_consistent_non_official"
	// AuthenticityTampered declares a hash that neither matches the content
	// nor was issued.
	AuthenticityTampered Authenticity = "tampered"
)

// Severe reports whether the verdict calls for manual review.
func (a Authenticity) Severe() bool {
	switch a {
	case AuthenticityCritical, AuthenticityMismatch, AuthenticityTampered:
		return true
	}
	return false
}
