package offers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/identity"
)

// Handler handles HTTP requests for offer and purchase queries.
// Reservation and purchase transitions are the matching coordinator's
// routes.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new offers handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers offer routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	offers := router.Group("/offers")
	{
		offers.POST("", h.createOffer)
		offers.GET("", h.listAvailable)
		offers.GET("/mine", h.listMine)
		offers.GET("/:id", h.getOffer)
		offers.GET("/:id/purchases", h.listOfferPurchases)
	}

	router.GET("/purchases", h.listMyPurchases)
}

// createOffer handles POST /api/v1/offers
func (h *Handler) createOffer(c *gin.Context) {
	var req CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, err := h.service.CreateOffer(c.Request.Context(), identity.RequesterID(c), req)
	if err != nil {
		h.respondError(c, "Failed to create offer", err)
		return
	}

	c.JSON(http.StatusCreated, offer)
}

// listAvailable handles GET /api/v1/offers
func (h *Handler) listAvailable(c *gin.Context) {
	result, err := h.service.ListAvailable(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list offers", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"offers": result, "count": len(result)})
}

// listMine handles GET /api/v1/offers/mine
func (h *Handler) listMine(c *gin.Context) {
	result, err := h.service.ListByFPO(c.Request.Context(), identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to list FPO offers", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"offers": result, "count": len(result)})
}

// getOffer handles GET /api/v1/offers/:id
func (h *Handler) getOffer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer ID"})
		return
	}

	offer, err := h.service.GetOffer(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get offer", err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

// listOfferPurchases handles GET /api/v1/offers/:id/purchases
func (h *Handler) listOfferPurchases(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer ID"})
		return
	}

	result, err := h.service.ListPurchasesForOffer(c.Request.Context(), id, identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to list offer purchases", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": result, "count": len(result)})
}

// listMyPurchases handles GET /api/v1/purchases
func (h *Handler) listMyPurchases(c *gin.Context) {
	result, err := h.service.ListPurchasesByProcessor(c.Request.Context(), identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to list purchases", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": result, "count": len(result)})
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := faults.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
