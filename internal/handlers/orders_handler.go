package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/inventory"
	"github.com/imrishuroy/go-storefront-stock/internal/orders"
	"github.com/imrishuroy/go-storefront-stock/internal/validation"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Lifecycle *orders.Lifecycle
	Ledger    *inventory.Ledger
	Advisor   *inventory.Advisor
	// LowStockThreshold applies when a request does not pass ?threshold=.
	LowStockThreshold int
	Logger            *zap.Logger
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	life := cfg.Lifecycle

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		order, err := life.CreateOrder(ctx, orders.Draft{
			ItemID:         req.ItemID,
			VariationID:    req.VariationID,
			SellerID:       req.SellerID,
			BuyerID:        req.BuyerID,
			Quantity:       req.Quantity,
			UnitPrice:      req.UnitPrice,
			TotalAmount:    req.TotalAmount,
			PaymentMethod:  req.PaymentMethod,
			PaymentRef:     req.PaymentRef,
			IdempotencyKey: idempKey,
		})
		var dup *orders.DuplicateRequestError
		if errors.As(err, &dup) {
			replay(c, dup.Record)
			return
		}
		if err != nil {
			writeError(c, logger, err)
			return
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
		c.JSON(http.StatusCreated, orders.Receipt{OrderID: order.OrderID, Status: order.Status})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := life.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	terminate := func(refund bool) gin.HandlerFunc {
		return func(c *gin.Context) {
			var req validation.ReasonRequest
			if err := validation.BindOptionalAndValidate(c, &req, v); err != nil {
				return
			}
			var (
				order *orders.Order
				err   error
			)
			if refund {
				order, err = life.RefundOrder(c.Request.Context(), c.Param("id"), req.Reason)
			} else {
				order, err = life.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
			}
			if err != nil {
				writeError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, order)
		}
	}
	r.POST("/orders/:id/cancel", terminate(false))
	r.POST("/orders/:id/refund", terminate(true))

	r.PATCH("/orders/:id/status", func(c *gin.Context) {
		var req validation.UpdateStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		order, err := life.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/payments/notifications", func(c *gin.Context) {
		var req validation.PaymentNotificationRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		order, err := life.UpdateOrderPaymentStatus(c.Request.Context(), req.ExternalRef, req.PaymentStatus)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": order.OrderID, "payment_status": order.PaymentStatus})
	})
}

// replay answers a repeated Idempotency-Key with the stored outcome of the first request.
func replay(c *gin.Context, rec *idempotency.IdempotencyRecord) {
	if rec == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			status := rec.ResponseStatus
			if status == 0 {
				status = http.StatusOK
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(status, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}
