package listings

import (
	"time"

	"github.com/google/uuid"

	"agrimandi/marketplace-backend/pkg/workflows"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	// StatusActive accepts bids.
	StatusActive Status = "Active"
	// StatusSold is terminal; exactly one bid was accepted.
	StatusSold Status = "Sold"
	// StatusClosed is terminal; the producer withdrew the listing.
	StatusClosed Status = "Closed"
)

// QualityGrade classifies how the crop was grown.
type QualityGrade string

const (
	GradeOrganic              QualityGrade = "Organic"
	GradeConventionalChemical QualityGrade = "ConventionalChemical"
)

// ValidGrade reports whether g is one of the recognized quality grades.
func ValidGrade(g QualityGrade) bool {
	return g == GradeOrganic || g == GradeConventionalChemical
}

// Listing is a producer's standing offer to sell a quantity of a crop.
// Listings are never deleted; Sold and Closed are terminal tombstones so
// history stays queryable.
type Listing struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ProducerID   uuid.UUID    `gorm:"type:uuid;not null;index" json:"producer_id"`
	CropKind     string       `gorm:"not null" json:"crop_kind"`
	Quantity     float64      `gorm:"not null" json:"quantity"` // quintals
	MinimumPrice int64        `gorm:"not null" json:"minimum_price"`
	QualityGrade QualityGrade `gorm:"not null" json:"quality_grade"`
	Location     string       `json:"location"`
	HarvestDate  time.Time    `json:"harvest_date"`
	Status       Status       `gorm:"not null;index" json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	// BidIDs is the listing's owned bid collection, ordered by submission
	// time. Populated on single-listing reads.
	BidIDs []uuid.UUID `gorm:"-" json:"bid_ids,omitempty"`
}

// Transitions is the listing state machine: Active is the only live state,
// Sold and Closed are terminal.
var Transitions = workflows.NewStateMachine(map[string][]string{
	string(StatusActive): {string(StatusSold), string(StatusClosed)},
	string(StatusSold):   {},
	string(StatusClosed): {},
})

// CreateListingRequest carries the producer-supplied attributes of a new
// listing.
type CreateListingRequest struct {
	CropKind     string       `json:"crop_kind"`
	Quantity     float64      `json:"quantity"`
	MinimumPrice int64        `json:"minimum_price"`
	QualityGrade QualityGrade `json:"quality_grade"`
	Location     string       `json:"location"`
	HarvestDate  time.Time    `json:"harvest_date"`
}
