package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DraftStatus string

const (
	StatusDraft     DraftStatus = "draft"
	StatusSent      DraftStatus = "sent"
	StatusCancelled DraftStatus = "cancelled"
)

type LineStatus string

const (
	// LineUnmatched: no catalog product attached, operator must resolve.
	LineUnmatched LineStatus = "unmatched"
	// LineMatched: the system attached a product automatically.
	LineMatched LineStatus = "matched"
	// LineConfirmed: the operator explicitly approved the match.
	LineConfirmed LineStatus = "confirmed"
)

var (
	ErrDraftNotEditable = errors.New("draft already sent or cancelled")
	ErrUnresolvedLines  = errors.New("draft still has unresolved lines")
	ErrEmptyDraft       = errors.New("draft has no lines to send")
	ErrLineNotFound     = errors.New("draft line not found")
	ErrUnknownDecision  = errors.New("unknown duplicate decision")
	ErrBadQuantity      = errors.New("quantity must be greater than zero")
)

// Scope identifies the one draft an operator dictates into: at most one
// draft-status order exists per (restaurant, branch, cutover window).
type Scope struct {
	RestaurantID uuid.UUID
	BranchID     *uuid.UUID
	ScheduledFor time.Time
}

type DraftOrder struct {
	ID           uuid.UUID
	RestaurantID uuid.UUID
	BranchID     *uuid.UUID
	OperatorID   uuid.UUID
	ScheduledFor time.Time
	Status       DraftStatus
	// Version is the optimistic-concurrency token: every committed mutation
	// bumps it, and a commit against a stale version is rejected so two
	// concurrent duplicate decisions cannot both win on the same line set.
	Version   int
	Lines     []DraftLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DraftLine struct {
	ID               uuid.UUID
	DraftOrderID     uuid.UUID
	DisplayName      string
	OriginalText     string
	Quantity         decimal.Decimal
	Unit             string
	Status           LineStatus
	MatchedProductID *uuid.UUID
	AddedBy          uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the line takes part in duplicate detection and
// conversion. Unmatched lines do not: the same unknown name may be dictated
// twice and both occurrences need operator attention.
func (l DraftLine) Active() bool {
	return l.Status == LineMatched || l.Status == LineConfirmed
}

// ActiveLineFor returns the matched or confirmed line already holding one of
// the given products, if any.
func (d *DraftOrder) ActiveLineFor(productIDs ...uuid.UUID) *DraftLine {
	for i := range d.Lines {
		l := &d.Lines[i]
		if !l.Active() || l.MatchedProductID == nil {
			continue
		}
		for _, id := range productIDs {
			if *l.MatchedProductID == id {
				return l
			}
		}
	}
	return nil
}

func (d *DraftOrder) Line(lineID uuid.UUID) *DraftLine {
	for i := range d.Lines {
		if d.Lines[i].ID == lineID {
			return &d.Lines[i]
		}
	}
	return nil
}

func (d *DraftOrder) Editable() bool { return d.Status == StatusDraft }

// DuplicateDecision is the operator's three-way answer to a duplicate report.
// Never an automatic sum: silently merging repeated mentions in a long
// dictated list is a common operator error.
type DuplicateDecision string

const (
	DecisionAdd     DuplicateDecision = "add"
	DecisionReplace DuplicateDecision = "replace"
	DecisionCancel  DuplicateDecision = "cancel"
)

// ApplyDuplicateDecision mutates the existing line per the decision and
// reports whether anything changed.
func ApplyDuplicateDecision(line *DraftLine, decision DuplicateDecision, qty decimal.Decimal, unit string) (bool, error) {
	if !qty.IsPositive() && decision != DecisionCancel {
		return false, ErrBadQuantity
	}
	switch decision {
	case DecisionAdd:
		line.Quantity = line.Quantity.Add(qty)
	case DecisionReplace:
		line.Quantity = qty
	case DecisionCancel:
		return false, nil
	default:
		return false, ErrUnknownDecision
	}
	if unit != "" {
		line.Unit = unit
	}
	return true, nil
}

// ValidateConvert checks the conversion precondition: no unmatched lines, at
// least one active line.
func ValidateConvert(lines []DraftLine) error {
	active := 0
	for _, l := range lines {
		if l.Status == LineUnmatched {
			return ErrUnresolvedLines
		}
		if l.Active() {
			active++
		}
	}
	if active == 0 {
		return ErrEmptyDraft
	}
	return nil
}

type FirmOrder struct {
	ID           uuid.UUID
	DraftOrderID uuid.UUID
	RestaurantID uuid.UUID
	BranchID     *uuid.UUID
	OperatorID   uuid.UUID
	ScheduledFor time.Time
	Lines        []FirmOrderLine
	CreatedAt    time.Time
}

type FirmOrderLine struct {
	ID          uuid.UUID
	FirmOrderID uuid.UUID
	ProductID   uuid.UUID
	DisplayName string
	Quantity    decimal.Decimal
	Unit        string
}

// NewFirmOrder copies a draft into an immutable firm order. The draft status
// transition to sent is the caller's (transactional) responsibility.
func NewFirmOrder(d DraftOrder) (FirmOrder, error) {
	if !d.Editable() {
		return FirmOrder{}, ErrDraftNotEditable
	}
	if err := ValidateConvert(d.Lines); err != nil {
		return FirmOrder{}, err
	}

	fo := FirmOrder{
		ID:           uuid.New(),
		DraftOrderID: d.ID,
		RestaurantID: d.RestaurantID,
		BranchID:     d.BranchID,
		OperatorID:   d.OperatorID,
		ScheduledFor: d.ScheduledFor,
		CreatedAt:    time.Now().UTC(),
	}
	for _, l := range d.Lines {
		if !l.Active() {
			continue
		}
		fo.Lines = append(fo.Lines, FirmOrderLine{
			ID:          uuid.New(),
			FirmOrderID: fo.ID,
			ProductID:   *l.MatchedProductID,
			DisplayName: l.DisplayName,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
		})
	}
	return fo, nil
}
