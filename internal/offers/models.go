package offers

import (
	"time"

	"github.com/google/uuid"

	"agrimandi/marketplace-backend/pkg/workflows"
)

// OfferStatus is the lifecycle state of a sales offer.
type OfferStatus string

const (
	// OfferAvailable accepts reservation attempts.
	OfferAvailable OfferStatus = "Available"
	// OfferReserved is held by exactly one purchase.
	OfferReserved OfferStatus = "Reserved"
	// OfferSold is terminal.
	OfferSold OfferStatus = "Sold"
)

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "Pending"
	PurchaseConfirmed PurchaseStatus = "Confirmed"
	PurchaseCompleted PurchaseStatus = "Completed"
	PurchaseCancelled PurchaseStatus = "Cancelled"
)

// SalesOffer is an FPO's offer of aggregated produce to processors. Like
// listings, offers are never deleted.
type SalesOffer struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	FPOID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"fpo_id"`
	CropKind     string      `gorm:"not null" json:"crop_kind"`
	Quantity     float64     `gorm:"not null" json:"quantity"` // quintals
	Quality      string      `json:"quality"`
	PricePerUnit int64       `gorm:"not null" json:"price_per_unit"`
	WarehouseRef string      `json:"warehouse_ref"`
	Status       OfferStatus `gorm:"not null;index" json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Purchase is a processor's claim against a sales offer.
type Purchase struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OfferID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"offer_id"`
	ProcessorID uuid.UUID      `gorm:"type:uuid;not null;index" json:"processor_id"`
	Quantity    float64        `gorm:"not null" json:"quantity"`
	AgreedPrice int64          `gorm:"not null" json:"agreed_price"`
	Status      PurchaseStatus `gorm:"not null;index" json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// OfferTransitions is the offer state machine. A cancelled purchase
// re-opens its offer, so Reserved may step back to Available.
var OfferTransitions = workflows.NewStateMachine(map[string][]string{
	string(OfferAvailable): {string(OfferReserved)},
	string(OfferReserved):  {string(OfferSold), string(OfferAvailable)},
	string(OfferSold):      {},
})

// PurchaseTransitions is the purchase state machine.
var PurchaseTransitions = workflows.NewStateMachine(map[string][]string{
	string(PurchasePending):   {string(PurchaseConfirmed), string(PurchaseCancelled)},
	string(PurchaseConfirmed): {string(PurchaseCompleted), string(PurchaseCancelled)},
	string(PurchaseCompleted): {},
	string(PurchaseCancelled): {},
})

// CreateOfferRequest carries the FPO-supplied attributes of a new offer.
type CreateOfferRequest struct {
	CropKind     string  `json:"crop_kind"`
	Quantity     float64 `json:"quantity"`
	Quality      string  `json:"quality"`
	PricePerUnit int64   `json:"price_per_unit"`
	WarehouseRef string  `json:"warehouse_ref"`
}
