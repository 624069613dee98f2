package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/inventory"
	"github.com/imrishuroy/go-storefront-stock/internal/orders"
)

// writeError maps ledger and lifecycle errors to HTTP responses.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var ise *inventory.InsufficientStockError
	switch {
	case errors.Is(err, orders.ErrCompensationFailure):
		logger.Error("ledger discrepancy",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_discrepancy"})
	case errors.As(err, &ise):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient_stock",
			"requested": ise.Requested,
			"available": ise.Available,
		})
	case errors.Is(err, inventory.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_stock"})
	case errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing_not_found"})
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidThreshold),
		errors.Is(err, inventory.ErrVariationRequired),
		errors.Is(err, orders.ErrInvalidPaymentStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "msg": err.Error()})
	case errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "msg": err.Error()})
	case errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "status_conflict"})
	case errors.Is(err, inventory.ErrTransient):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
	default:
		logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
