package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrder() CreateOrderRequest {
	return CreateOrderRequest{
		ItemID:        "L1",
		BuyerID:       "buyer-1",
		Quantity:      3,
		UnitPrice:     10.10,
		TotalAmount:   30.30,
		PaymentMethod: "CARD",
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	assert.NoError(t, New().Struct(validOrder()))
}

func TestCreateOrderRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"total mismatch", func(r *CreateOrderRequest) { r.TotalAmount = 30.29 }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Quantity = 0; r.TotalAmount = 0 }},
		{"missing item", func(r *CreateOrderRequest) { r.ItemID = "" }},
		{"missing buyer", func(r *CreateOrderRequest) { r.BuyerID = "" }},
		{"unknown payment method", func(r *CreateOrderRequest) { r.PaymentMethod = "BARTER" }},
		{"negative price", func(r *CreateOrderRequest) { r.UnitPrice = -1; r.TotalAmount = -3 }},
	}
	v := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validOrder()
			tc.mutate(&req)
			assert.Error(t, v.Struct(req))
		})
	}
}

func TestStatusAndPaymentRequests(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(UpdateStatusRequest{Status: "SHIPPED"}))
	assert.Error(t, v.Struct(UpdateStatusRequest{Status: "PENDING"}))
	assert.NoError(t, v.Struct(PaymentNotificationRequest{ExternalRef: "p1", PaymentStatus: "COMPLETED"}))
	assert.Error(t, v.Struct(PaymentNotificationRequest{ExternalRef: "p1", PaymentStatus: "PAID"}))
	assert.Error(t, v.Struct(ReasonRequest{Reason: strings.Repeat("x", 501)}))
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"item_id":"L1","quantity":0}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	err := BindAndValidate(c, &req, New())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestBindOptionalAndValidate_EmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders/o1/cancel", nil)

	var req ReasonRequest
	require.NoError(t, BindOptionalAndValidate(c, &req, New()))
	assert.Empty(t, req.Reason)
}

func TestBindQueryAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/listings/L1/availability?quantity=2&variation_id=V1", nil)

	var q AvailabilityQuery
	require.NoError(t, BindQueryAndValidate(c, &q, New()))
	assert.Equal(t, 2, q.Quantity)
	assert.Equal(t, "V1", q.VariationID)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/listings/L1/low-stock?threshold=-1", nil)
	var lq LowStockQuery
	assert.Error(t, BindQueryAndValidate(c, &lq, New()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
