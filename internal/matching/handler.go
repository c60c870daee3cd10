package matching

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/identity"
)

// Handler handles HTTP requests for settlement operations
type Handler struct {
	coordinator *Coordinator
	logger      *zap.Logger
}

// NewHandler creates a new matching handler
func NewHandler(coordinator *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		logger:      logger,
	}
}

// RegisterRoutes registers settlement routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/listings/:id/bids/:bidId/accept", h.acceptBid)
	router.POST("/offers/:id/reserve", h.reserveOffer)

	purchases := router.Group("/purchases")
	{
		purchases.POST("/:id/confirm", h.confirmPurchase)
		purchases.POST("/:id/complete", h.completePurchase)
		purchases.POST("/:id/cancel", h.cancelPurchase)
	}
}

// acceptBid handles POST /api/v1/listings/:id/bids/:bidId/accept
func (h *Handler) acceptBid(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}
	bidID, err := uuid.Parse(c.Param("bidId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bid ID"})
		return
	}

	result, err := h.coordinator.AcceptBid(c.Request.Context(), listingID, bidID, identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to accept bid", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing":       result.Listing,
		"accepted_bid":  result.Accepted,
		"rejected_bids": result.Rejected,
	})
}

// ReserveRequest carries the processor-supplied reservation terms.
type ReserveRequest struct {
	Quantity    float64 `json:"quantity"`
	AgreedPrice int64   `json:"agreed_price"`
}

// reserveOffer handles POST /api/v1/offers/:id/reserve
func (h *Handler) reserveOffer(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer ID"})
		return
	}

	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.ReserveOffer(c.Request.Context(), offerID, identity.RequesterID(c),
		req.Quantity, req.AgreedPrice)
	if err != nil {
		h.respondError(c, "Failed to reserve offer", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": result.Offer, "purchase": result.Purchase})
}

// confirmPurchase handles POST /api/v1/purchases/:id/confirm
func (h *Handler) confirmPurchase(c *gin.Context) {
	h.transition(c, "Failed to confirm purchase", h.coordinator.ConfirmPurchase)
}

// completePurchase handles POST /api/v1/purchases/:id/complete
func (h *Handler) completePurchase(c *gin.Context) {
	h.transition(c, "Failed to complete purchase", h.coordinator.CompletePurchase)
}

// cancelPurchase handles POST /api/v1/purchases/:id/cancel
func (h *Handler) cancelPurchase(c *gin.Context) {
	h.transition(c, "Failed to cancel purchase", h.coordinator.CancelPurchase)
}

func (h *Handler) transition(c *gin.Context, msg string,
	apply func(ctx context.Context, purchaseID, requesterID uuid.UUID) (*ReserveResult, error)) {

	purchaseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purchase ID"})
		return
	}

	result, err := apply(c.Request.Context(), purchaseID, identity.RequesterID(c))
	if err != nil {
		h.respondError(c, msg, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": result.Offer, "purchase": result.Purchase})
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := faults.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
