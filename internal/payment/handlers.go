package payment

import (
	"errors"
	"net/http"

	"github.com/DarknessoPirate/itemite-core/internal/logging"
	"github.com/DarknessoPirate/itemite-core/internal/validation"
	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for payment and dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment and dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.OpenPayment)
	r.GET("/payments/:id", h.GetPayment)
	r.POST("/payments/:id/trigger", h.RecordTrigger)
	r.POST("/payments/:id/settle", h.Settle)
	r.POST("/payments/:id/dispute", h.RaiseDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// OpenPayment handles POST /v1/payments
func (h *Handler) OpenPayment(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("buyerId", req.BuyerID),
		validation.ValidID("sellerId", req.SellerID),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.service.Open(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": err.Error(),
			})
		case errors.Is(err, ErrBuyerNotFound), errors.Is(err, ErrSellerNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": err.Error(),
			})
		default:
			// Capture failures surface as a gateway error: the charge
			// did not happen and no payment record exists.
			logging.L(c.Request.Context()).Error("failed to open payment", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "capture_failed",
				"message": "Could not capture funds",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// TriggerRequest is the body for POST /v1/payments/:id/trigger.
type TriggerRequest struct {
	Trigger Trigger `json:"trigger" binding:"required"`
}

// RecordTrigger handles POST /v1/payments/:id/trigger
func (h *Handler) RecordTrigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.RecordTrigger(c.Request.Context(), c.Param("id"), req.Trigger)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
		case errors.Is(err, ErrInvalidTrigger):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_trigger",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("failed to record trigger", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record trigger",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// Settle handles POST /v1/payments/:id/settle
func (h *Handler) Settle(c *gin.Context) {
	p, err := h.service.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
		case errors.Is(err, ErrNoTrigger):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_trigger",
				"message": "No transfer trigger recorded yet",
			})
		case errors.Is(err, ErrPaymentDisputed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "disputed",
				"message": "Payment is disputed, settlement suspended",
			})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_status",
				"message": err.Error(),
			})
		case errors.Is(err, ErrSettleTimeout):
			// The outcome is unknown; the scheduler retries. 504 tells
			// the caller not to assume either way.
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":   "settle_timeout",
				"message": "Settlement timed out, will be retried",
			})
		case errors.Is(err, ErrSettleFailed):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "settle_failed",
				"message": "Settlement failed",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to settle payment", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to settle payment",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// RaiseDispute handles POST /v1/payments/:id/dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	var req RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.RaiseDispute(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
		case errors.Is(err, ErrInvalidReason):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_reason",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_status",
				"message": err.Error(),
			})
		case errors.Is(err, ErrDisputeOpen):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "dispute_open",
				"message": "Payment already has an open dispute",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to raise dispute", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to raise dispute",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDisputeNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
		case errors.Is(err, ErrInvalidResolution):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_resolution",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidRefundFraction):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_refund_fraction",
				"message": err.Error(),
			})
		case errors.Is(err, ErrDisputeAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_resolved",
				"message": "Dispute has already been resolved",
			})
		case errors.Is(err, ErrSettleFailed):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "settle_failed",
				"message": "Fund movement failed, dispute remains open",
			})
		default:
			logging.L(c.Request.Context()).Error("failed to resolve dispute", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to resolve dispute",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}
