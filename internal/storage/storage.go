// Package storage provides the persistence adapters behind the marketplace
// repositories: a Postgres adapter, an in-memory adapter, and a resilient
// wrapper that mirrors the last known state for degraded operation.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
)

// ChangeEvent is the durable audit record of one committed mutation. Rows
// are written in the same transaction as the mutation they describe, which
// gives at-least-once replay a durable basis.
type ChangeEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Entity    string         `gorm:"not null;index" json:"entity"`
	EntityID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"entity_id"`
	Action    string         `gorm:"not null" json:"action"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Backend is the full persistence surface a storage adapter provides: the
// per-domain repositories plus the coordinator's atomic operations and the
// change-event audit log.
type Backend interface {
	listings.Repository
	bids.Repository
	offers.Repository
	matching.Store

	// ListChangeEvents returns the most recent audit records, newest first.
	ListChangeEvents(ctx context.Context, limit int) ([]*ChangeEvent, error)
}
