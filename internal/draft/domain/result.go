package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	catalog "github.com/tytya04/zakupki/internal/catalog/domain"
)

// LineView is the rendering shape handed back to the conversation layer.
type LineView struct {
	ID          uuid.UUID       `json:"id"`
	DisplayName string          `json:"display_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	Status      LineStatus      `json:"status"`
}

func (l DraftLine) View() LineView {
	return LineView{
		ID:          l.ID,
		DisplayName: l.DisplayName,
		Quantity:    l.Quantity,
		Unit:        l.Unit,
		Status:      l.Status,
	}
}

// One variant per ingestion outcome. A line lands in exactly one of them.

type MatchedResult struct {
	Line   LineView            `json:"line"`
	Reason catalog.MatchReason `json:"reason"`
}

type UnmatchedResult struct {
	Line        LineView                 `json:"line"`
	Suggestions []catalog.MatchCandidate `json:"suggestions"`
}

type DuplicateResult struct {
	ExistingLine LineView        `json:"existing_line"`
	NewQuantity  decimal.Decimal `json:"new_quantity"`
	OriginalText string          `json:"original_text"`
	// UnitOptions is non-empty when the duplicate mention was itself
	// unit-ambiguous; the operator's decision then also picks the unit.
	UnitOptions []string `json:"unit_options,omitempty"`
}

type NeedsUnitResult struct {
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Options      []string        `json:"options"`
	OriginalText string          `json:"original_text"`
}

type MalformedResult struct {
	RawText string `json:"raw_text"`
	Reason  string `json:"reason"`
}

// BatchResult aggregates one ingestion call. Partial failure of one line
// never aborts the others: every input line is accounted for in exactly one
// bucket.
type BatchResult struct {
	DraftID   uuid.UUID         `json:"draft_id"`
	Matched   []MatchedResult   `json:"matched"`
	Unmatched []UnmatchedResult `json:"unmatched"`
	Duplicate []DuplicateResult `json:"duplicates"`
	NeedsUnit []NeedsUnitResult `json:"needs_unit_clarification"`
	Malformed []MalformedResult `json:"malformed"`
}
