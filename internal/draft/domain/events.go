package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DraftConverted is published through the outbox when a draft becomes a firm
// order. The scheduler and document collaborators consume it.
type DraftConverted struct {
	DraftOrderID uuid.UUID            `json:"draft_order_id"`
	FirmOrderID  uuid.UUID            `json:"firm_order_id"`
	RestaurantID uuid.UUID            `json:"restaurant_id"`
	BranchID     *uuid.UUID           `json:"branch_id,omitempty"`
	ScheduledFor time.Time            `json:"scheduled_for"`
	Lines        []DraftConvertedLine `json:"lines"`
}

type DraftConvertedLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	DisplayName string          `json:"display_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
}
