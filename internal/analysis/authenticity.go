package analysis

import (
	"fmt"

	"github.com/pavelanni/sheetaudit/internal/contenthash"
	"github.com/pavelanni/sheetaudit/internal/model"
)

// Identity is what a submission claims about itself, plus the recomputed
// content hash.
type Identity struct {
	DeclaredID     string `json:"declared_id"`
	DeclaredHash   string `json:"declared_hash"`
	RecomputedHash string `json:"recomputed_hash"`
	// ExpectedID is the id encoded in the filename, empty when absent.
	ExpectedID string `json:"expected_id"`
}

// Authenticate decides whether a submission derives from a copy issued to
// the declared student. A missing id or hash is critical; an id that
// contradicts the filename is a mismatch, whatever the hashes say.
func Authenticate(id Identity, reg *contenthash.Registry) (model.Authenticity, string) {
	if id.DeclaredID == "" || id.DeclaredHash == "" {
		return model.AuthenticityCritical, "student id or content hash is missing"
	}
	if id.ExpectedID != "" && id.ExpectedID != id.DeclaredID {
		return model.AuthenticityMismatch,
			fmt.Sprintf("declared id %s differs from id %s expected from the filename", id.DeclaredID, id.ExpectedID)
	}
	official := reg.Official(id.DeclaredID, id.DeclaredHash)
	consistent := id.RecomputedHash == id.DeclaredHash
	switch {
	case official && consistent:
		return model.AuthenticityOfficialClean, "issued copy, content unchanged"
	case official:
		return model.AuthenticityOfficialThenEdited, "issued copy, content edited"
	case consistent:
		return model.AuthenticitySelfConsistent, "content matches its declared hash but was never issued to this student"
	default:
		return model.AuthenticityTampered, "declared hash matches neither the content nor an issued copy"
	}
}
