package auction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/DarknessoPirate/itemite-core/internal/logging"
	"github.com/DarknessoPirate/itemite-core/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for auction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new auction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up auction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auctions", h.CreateAuction)
	r.GET("/auctions/:id", h.GetAuction)
	r.POST("/auctions/:id/bids", h.PlaceBid)
	r.GET("/auctions/:id/bids", h.BidHistory)
}

// CreateAuction handles POST /v1/auctions
func (h *Handler) CreateAuction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("ownerId", req.OwnerID),
		validation.ValidAmount("startingBid", req.StartingBid),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidAuction) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_auction",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("failed to create auction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create auction",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"auction": a})
}

// GetAuction handles GET /v1/auctions/:id
func (h *Handler) GetAuction(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAuctionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Auction not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auction": a})
}

// PlaceBidRequest is the body for POST /v1/auctions/:id/bids.
type PlaceBidRequest struct {
	BidderID string `json:"bidderId" binding:"required"`
	Price    string `json:"price" binding:"required"`
}

// PlaceBid handles POST /v1/auctions/:id/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), c.Param("id"), req.BidderID, req.Price)
	if err != nil {
		switch {
		case errors.Is(err, ErrAuctionNotFound), errors.Is(err, ErrBidderNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_price",
				"message": err.Error(),
			})
		case errors.Is(err, ErrAuctionClosed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "auction_closed",
				"message": "Auction no longer accepts bids",
			})
		case errors.Is(err, ErrSelfBid):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "self_bid",
				"message": "Owner cannot bid on own auction",
			})
		case errors.Is(err, ErrBidTooLow):
			// Conflict, not validation: the bid may have been legal at
			// submission time and lost the race. Callers can retry with
			// fresh data.
			c.JSON(http.StatusConflict, gin.H{
				"error":   "bid_too_low",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("failed to place bid", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to place bid",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bid": bid})
}

// BidHistory handles GET /v1/auctions/:id/bids
func (h *Handler) BidHistory(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	// The service clamps limit to its page size bounds.

	bids, next, more, err := h.service.BidHistory(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrAuctionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Auction not found",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}

	if bids == nil {
		bids = []*Bid{}
	}
	c.JSON(http.StatusOK, gin.H{
		"bids":       bids,
		"nextCursor": next,
		"hasMore":    more,
	})
}
