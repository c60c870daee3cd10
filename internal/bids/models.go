package bids

import (
	"time"

	"github.com/google/uuid"

	"agrimandi/marketplace-backend/pkg/workflows"
)

// Status is the lifecycle state of a bid.
type Status string

const (
	// StatusPending awaits a producer decision.
	StatusPending Status = "Pending"
	// StatusAccepted is terminal; at most one bid per listing ever holds it.
	StatusAccepted Status = "Accepted"
	// StatusRejected is terminal.
	StatusRejected Status = "Rejected"
)

// Bid is a counterparty's conditional offer against a listing. The
// ListingID is a back-reference, not ownership: the listing owns its bid
// collection.
type Bid struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID  uuid.UUID `gorm:"type:uuid;not null;index" json:"listing_id"`
	BidderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"bidder_id"`
	BidderName string    `json:"bidder_name"`
	Price      int64     `gorm:"not null" json:"price"`
	Quantity   float64   `gorm:"not null" json:"quantity"`
	Message    string    `json:"message,omitempty"`
	Status     Status    `gorm:"not null;index" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Transitions is the bid state machine: Pending resolves to exactly one of
// Accepted or Rejected.
var Transitions = workflows.NewStateMachine(map[string][]string{
	string(StatusPending):  {string(StatusAccepted), string(StatusRejected)},
	string(StatusAccepted): {},
	string(StatusRejected): {},
})

// PlaceBidRequest carries the bidder-supplied attributes of a new bid.
type PlaceBidRequest struct {
	BidderName string  `json:"bidder_name"`
	Price      int64   `json:"price"`
	Quantity   float64 `json:"quantity"`
	Message    string  `json:"message"`
}
