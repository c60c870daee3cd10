package offers

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary for sales offers and purchases.
// Purchase status changes are owned by the matching coordinator's atomic
// operations, so no purchase transition method is exposed here.
type Repository interface {
	CreateOffer(ctx context.Context, offer *SalesOffer) error
	GetOffer(ctx context.Context, id uuid.UUID) (*SalesOffer, error)
	ListAvailableOffers(ctx context.Context) ([]*SalesOffer, error)
	ListOffersByFPO(ctx context.Context, fpoID uuid.UUID) ([]*SalesOffer, error)

	// UpdateOfferStatus applies a conditional transition guarded on the
	// current status; a failed predicate surfaces as a conflict fault.
	UpdateOfferStatus(ctx context.Context, id uuid.UUID, from, to OfferStatus) error

	GetPurchase(ctx context.Context, id uuid.UUID) (*Purchase, error)
	ListPurchasesByProcessor(ctx context.Context, processorID uuid.UUID) ([]*Purchase, error)
	ListPurchasesForOffer(ctx context.Context, offerID uuid.UUID) ([]*Purchase, error)
}
