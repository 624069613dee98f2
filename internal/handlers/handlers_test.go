package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-stock/internal/docstore"
	"github.com/imrishuroy/go-storefront-stock/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-stock/internal/idempotency"
	"github.com/imrishuroy/go-storefront-stock/internal/inventory"
	"github.com/imrishuroy/go-storefront-stock/internal/orders"
)

type testServer struct {
	fake   *dynamotest.Fake
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := dynamotest.New()
	fake.AddTable("listings", "id")
	fake.AddTable("orders", "order_id")
	fake.AddTable("idempotency", "idempotency_key")

	docs := docstore.New(fake, docstore.WithMaxBackoff(0))
	ledger := inventory.NewLedger(docs, "listings", nil, nil)
	life := orders.NewLifecycle(orders.NewStore(fake, "orders"), ledger,
		orders.WithIdempotency(idempotency.NewStore(fake, "idempotency", time.Hour)))
	cfg := HandlerConfig{
		Lifecycle:         life,
		Ledger:            ledger,
		Advisor:           inventory.NewAdvisor(docs, "listings"),
		LowStockThreshold: 5,
	}

	r := gin.New()
	r.Use(RequestID())
	RegisterOrdersRoutes(r, cfg)
	RegisterInventoryRoutes(r, cfg)
	return &testServer{fake: fake, router: r}
}

func (s *testServer) seedListing(t *testing.T, l inventory.Listing) {
	t.Helper()
	item, err := attributevalue.MarshalMap(l)
	require.NoError(t, err)
	s.fake.Seed("listings", item)
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

const orderBody = `{"item_id":"L1","buyer_id":"b1","quantity":2,"unit_price":5,"total_amount":10,"payment_method":"CARD"}`

func TestCreateOrder_Flow(t *testing.T) {
	s := newTestServer(t)
	s.seedListing(t, inventory.Listing{ID: "L1", SellerID: "s1", Quantity: 3})

	w := s.do(http.MethodPost, "/orders", orderBody, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "PENDING", created["status"])
	orderID := created["order_id"].(string)
	assert.Equal(t, "/orders/"+orderID, w.Header().Get("Location"))

	w = s.do(http.MethodPost, "/orders", orderBody, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, orderID, decode(t, w)["order_id"])

	w = s.do(http.MethodPost, "/orders", orderBody, map[string]string{"Idempotency-Key": "k2"})
	require.Equal(t, http.StatusConflict, w.Code)
	conflict := decode(t, w)
	assert.Equal(t, "insufficient_stock", conflict["error"])
	assert.EqualValues(t, 1, conflict["available"])

	w = s.do(http.MethodGet, "/orders/"+orderID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["quantity"])
}

func TestCreateOrder_BadRequests(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/orders", orderBody, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_idempotency_key", decode(t, w)["error"])

	w = s.do(http.MethodPost, "/orders", `{"item_id":"L1"}`, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/orders", orderBody, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "listing_not_found", decode(t, w)["error"])
}

func TestCancelRefundAndStatus(t *testing.T) {
	s := newTestServer(t)
	s.seedListing(t, inventory.Listing{ID: "L1", SellerID: "s1", Quantity: 3})

	w := s.do(http.MethodPost, "/orders", orderBody, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["order_id"].(string)

	w = s.do(http.MethodPatch, "/orders/"+orderID+"/status", `{"status":"SHIPPED"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode(t, w)["error"])

	w = s.do(http.MethodPatch, "/orders/"+orderID+"/status", `{"status":"CONFIRMED"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/orders/"+orderID+"/cancel", `{"reason":"too slow"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, "too slow", body["cancel_reason"])

	w = s.do(http.MethodPost, "/orders/"+orderID+"/refund", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CANCELLED", decode(t, w)["status"], "already terminal")

	w = s.do(http.MethodGet, "/listings/L1/availability?quantity=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["available"])

	w = s.do(http.MethodPost, "/orders/missing/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentNotification(t *testing.T) {
	s := newTestServer(t)
	s.seedListing(t, inventory.Listing{ID: "L1", SellerID: "s1", Quantity: 3})

	body := `{"item_id":"L1","buyer_id":"b1","quantity":1,"unit_price":5,"total_amount":5,"payment_method":"BANK_TRANSFER","payment_ref":"pay-7"}`
	w := s.do(http.MethodPost, "/orders", body, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "PENDING_PAYMENT", decode(t, w)["status"])

	w = s.do(http.MethodPost, "/payments/notifications", `{"external_ref":"pay-7","payment_status":"COMPLETED"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COMPLETED", decode(t, w)["payment_status"])

	w = s.do(http.MethodPost, "/payments/notifications", `{"external_ref":"pay-0","payment_status":"COMPLETED"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLowStockEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seedListing(t, inventory.Listing{ID: "L1", SellerID: "s1", Quantity: 2})
	s.seedListing(t, inventory.Listing{ID: "L2", SellerID: "s1", Quantity: 40})

	w := s.do(http.MethodGet, "/listings/L1/low-stock", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["has_low_stock"])

	w = s.do(http.MethodGet, "/listings/L1/low-stock?threshold=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["has_low_stock"])

	w = s.do(http.MethodGet, "/sellers/s1/low-stock?threshold=50", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total_low_stock_items"])

	w = s.do(http.MethodGet, "/listings/L1/availability?quantity=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/listings/nope/low-stock", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/orders/x", "", map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, "req-1", w.Header().Get("X-Request-Id"))

	w = s.do(http.MethodGet, "/orders/x", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
