package bids

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/identity"
)

// Handler handles HTTP requests for bid operations. Acceptance is the
// matching coordinator's route, not this handler's.
type Handler struct {
	ledger *Ledger
	logger *zap.Logger
}

// NewHandler creates a new bids handler
func NewHandler(ledger *Ledger, logger *zap.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

// RegisterRoutes registers bid routes under the listings group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	bids := router.Group("/listings/:id/bids")
	{
		bids.POST("", h.placeBid)
		bids.GET("", h.listBids)
		bids.POST("/:bidId/reject", h.rejectBid)
	}
}

// placeBid handles POST /api/v1/listings/:id/bids
func (h *Handler) placeBid(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}

	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bid, err := h.ledger.PlaceBid(c.Request.Context(), listingID, identity.RequesterID(c), req)
	if err != nil {
		h.respondError(c, "Failed to place bid", err)
		return
	}

	c.JSON(http.StatusCreated, bid)
}

// listBids handles GET /api/v1/listings/:id/bids
func (h *Handler) listBids(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}

	result, err := h.ledger.ListForListing(c.Request.Context(), listingID)
	if err != nil {
		h.respondError(c, "Failed to list bids", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bids": result, "count": len(result)})
}

// rejectBid handles POST /api/v1/listings/:id/bids/:bidId/reject
func (h *Handler) rejectBid(c *gin.Context) {
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

	bid, err := h.ledger.RejectBid(c.Request.Context(), listingID, bidID, identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to reject bid", err)
		return
	}

	c.JSON(http.StatusOK, bid)
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := faults.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
