package domain

import "github.com/google/uuid"

// Product is one row of the supplier catalog. Several products may carry the
// same canonical name and differ only by unit (potatoes by the kg and by the
// crate are two rows).
type Product struct {
	ID            uuid.UUID
	CanonicalName string
	Unit          string
	Category      string
	TechnicalNote string
}

// Synonym maps an alternate spelling to a canonical catalog name. It is a
// first-class lookup key, not a fuzzy hint: a synonym hit resolves with the
// same confidence as an exact name hit.
type Synonym struct {
	Text          string
	CanonicalName string
}

// MatchReason categorizes why a candidate was returned.
type MatchReason string

const (
	ReasonExact   MatchReason = "exact"
	ReasonSynonym MatchReason = "synonym"
	ReasonFuzzy   MatchReason = "fuzzy"
	ReasonPartial MatchReason = "partial"
)

// MatchCandidate is a scored resolver result. Exact and synonym matches
// always score 1.0; fuzzy and partial scores stay strictly below that.
type MatchCandidate struct {
	Product Product
	Score   float64
	Reason  MatchReason
}
