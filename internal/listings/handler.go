package listings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agrimandi/marketplace-backend/internal/faults"
	"agrimandi/marketplace-backend/internal/identity"
)

// Handler handles HTTP requests for listing operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new listings handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers listing routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	listings := router.Group("/listings")
	{
		listings.POST("", h.createListing)
		listings.GET("", h.listActive)
		listings.GET("/mine", h.listMine)
		listings.GET("/:id", h.getListing)
		listings.POST("/:id/close", h.closeListing)
	}
}

// createListing handles POST /api/v1/listings
func (h *Handler) createListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := h.service.CreateListing(c.Request.Context(), identity.RequesterID(c), req)
	if err != nil {
		h.respondError(c, "Failed to create listing", err)
		return
	}

	c.JSON(http.StatusCreated, listing)
}

// listActive handles GET /api/v1/listings
func (h *Handler) listActive(c *gin.Context) {
	result, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list listings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": result, "count": len(result)})
}

// listMine handles GET /api/v1/listings/mine
func (h *Handler) listMine(c *gin.Context) {
	result, err := h.service.ListByProducer(c.Request.Context(), identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to list producer listings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": result, "count": len(result)})
}

// getListing handles GET /api/v1/listings/:id
func (h *Handler) getListing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}

	listing, err := h.service.GetListing(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get listing", err)
		return
	}

	c.JSON(http.StatusOK, listing)
}

// closeListing handles POST /api/v1/listings/:id/close
func (h *Handler) closeListing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}

	listing, err := h.service.CloseListing(c.Request.Context(), id, identity.RequesterID(c))
	if err != nil {
		h.respondError(c, "Failed to close listing", err)
		return
	}

	c.JSON(http.StatusOK, listing)
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := faults.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
