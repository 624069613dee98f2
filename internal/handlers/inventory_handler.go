package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-stock/internal/validation"
)

// RegisterInventoryRoutes registers the read-only stock endpoints.
func RegisterInventoryRoutes(r gin.IRouter, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := func(q validation.LowStockQuery) int {
		if q.Threshold != nil {
			return *q.Threshold
		}
		return cfg.LowStockThreshold
	}

	r.GET("/listings/:id/availability", func(c *gin.Context) {
		var q validation.AvailabilityQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		avail, err := cfg.Ledger.CheckAvailability(c.Request.Context(), c.Param("id"), q.Quantity, q.VariationID)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, avail)
	})

	r.GET("/listings/:id/low-stock", func(c *gin.Context) {
		var q validation.LowStockQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		report, err := cfg.Advisor.CheckLowStock(c.Request.Context(), c.Param("id"), threshold(q))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	r.GET("/sellers/:id/low-stock", func(c *gin.Context) {
		var q validation.LowStockQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		summary, err := cfg.Advisor.GetLowStockSummary(c.Request.Context(), c.Param("id"), threshold(q))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
