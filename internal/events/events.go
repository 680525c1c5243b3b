package events

import (
	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

// HoldCreatedEvent is published after a transaction that placed a hold commits.
type HoldCreatedEvent struct {
	BusinessID uuid.UUID
	AccountID  uuid.UUID
	HoldID     uuid.UUID
}

func (HoldCreatedEvent) Name() string { return "hold.created" }

// AdjustmentPersistedEvent is published after a transaction that recorded an adjustment commits.
type AdjustmentPersistedEvent struct {
	Adjustment models.Adjustment
}

func (AdjustmentPersistedEvent) Name() string { return "adjustment.persisted" }
