package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	catalog "github.com/tytya04/zakupki/internal/catalog/domain"
	"github.com/tytya04/zakupki/internal/draft/domain"
)

var (
	ErrDraftNotFound   = errors.New("draft order not found")
	ErrProductNotFound = errors.New("catalog product not found")
	// ErrStaleDraft means the draft changed between read and commit. The
	// caller re-fetches and retries the single operation, not the batch.
	ErrStaleDraft = errors.New("draft changed concurrently")
)

// DraftRepository is the persistence boundary. Every mutating method applies
// its change inside one transaction and verifies the draft version it was
// given, so concurrent edits against a stale line set are rejected with
// ErrStaleDraft instead of silently winning.
type DraftRepository interface {
	// GetOrCreate returns the open draft for the scope, creating it when
	// none exists. Guarantees at most one draft-status order per scope even
	// under concurrent creation.
	GetOrCreate(ctx context.Context, scope domain.Scope, operatorID uuid.UUID) (domain.DraftOrder, error)
	Get(ctx context.Context, id uuid.UUID) (domain.DraftOrder, error)
	AppendLines(ctx context.Context, draftID uuid.UUID, version int, lines []domain.DraftLine) error
	UpdateLine(ctx context.Context, draftID uuid.UUID, version int, line domain.DraftLine) error
	DeleteLine(ctx context.Context, draftID uuid.UUID, version int, lineID uuid.UUID) error
	// Convert atomically creates the firm order, marks the draft sent and
	// writes the DraftConverted outbox row, or does none of it.
	Convert(ctx context.Context, draftID uuid.UUID, traceparent string) (domain.FirmOrder, error)
	Cancel(ctx context.Context, draftID uuid.UUID) error
}

// Catalog is the slice of the catalog index the accumulator needs beyond the
// resolver itself.
type Catalog interface {
	UnitsFor(name string) []string
	ProductByID(id uuid.UUID) (catalog.Product, bool)
}
