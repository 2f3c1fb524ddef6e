package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/service/servicetest"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type testServer struct {
	router    *gin.Engine
	store     *servicetest.Store
	processor *servicetest.Processor
	verifier  *servicetest.Verifier
	publisher *servicetest.Publisher
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		store:     servicetest.NewStore(),
		processor: servicetest.NewProcessor(),
		verifier:  &servicetest.Verifier{},
		publisher: &servicetest.Publisher{},
	}
	redis := servicetest.NewRedis()

	inventory := service.NewInventorySync(ts.store, redis, redis, time.Hour)
	materializer := service.NewMaterializer(ts.store, ts.processor, redis, inventory, ts.publisher, service.MaterializerConfig{})
	handler := NewHandler(
		service.NewCartService(ts.store, redis),
		service.NewCheckoutService(ts.store, ts.processor, service.CheckoutConfig{}),
		materializer,
		service.NewWebhookService(ts.verifier, materializer, ts.publisher),
		opts,
	)

	ts.router = gin.New()
	handler.SetupRoutes(ts.router)
	return ts
}

func defaultOptions() Options {
	return Options{
		Auth:                  AuthConfig{Secret: testSecret, CookieName: "userToken"},
		CheckoutRatePerMinute: 600,
		CheckoutBurst:         100,
	}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func (ts *testServer) do(t *testing.T, method, path, buyer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if buyer != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, jwt.MapClaims{
			"id":  buyer,
			"exp": time.Now().Add(time.Hour).Unix(),
		}))
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	opts := defaultOptions()
	opts.Dependencies = map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	ts := newTestServer(t, opts)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decode(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, defaultOptions())

	w := ts.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// cookie with a numeric subject claim
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: "userToken", Value: token(t, jwt.MapClaims{"sub": float64(17)})})
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "17", decode(t, w)["buyer_id"])

	// token signed with another secret
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "x"}).SignedString([]byte("other"))
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.store.PutProduct(1, "Collar", 100, 10)
	ts.store.PutProduct(2, "Empty shelf", 100, 0)

	w := ts.do(t, http.MethodPost, "/api/v1/cart", "buyer-1", map[string]interface{}{"product_id": 1, "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(200), decode(t, w)["total"])

	w = ts.do(t, http.MethodPost, "/api/v1/cart", "buyer-1", map[string]interface{}{"product_id": 1, "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/cart", "buyer-1", map[string]interface{}{"product_id": 2, "quantity": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/cart", "buyer-1", map[string]interface{}{"product_id": 99, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/cart", "buyer-1", map[string]interface{}{"product_id": 1, "quantity": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(500), decode(t, w)["total"])

	w = ts.do(t, http.MethodDelete, "/api/v1/cart?product_id=1", "buyer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ts.store.Cart("buyer-1"))

	w = ts.do(t, http.MethodDelete, "/api/v1/cart?product_id=abc", "buyer-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutAndConfirm(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.store.PutProduct(1, "Collar", 100, 10)
	ts.store.PutProduct(2, "Leash", 50, 10)

	w := ts.do(t, http.MethodPost, "/api/v1/checkout", "buyer-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "empty cart")

	require.NoError(t, ts.store.AddCartItem(context.Background(), "buyer-1", 1, 2))
	require.NoError(t, ts.store.AddCartItem(context.Background(), "buyer-1", 2, 1))

	w = ts.do(t, http.MethodPost, "/api/v1/checkout", "buyer-1", map[string]interface{}{
		"shipping": map[string]string{"full_name": "Asha", "city": "Pune"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decode(t, w)["session_id"].(string)
	require.NotEmpty(t, sessionID)

	w = ts.do(t, http.MethodPost, "/api/v1/orders/confirm", "buyer-1", map[string]string{"session_id": sessionID})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	ts.processor.MarkPaid(sessionID)

	w = ts.do(t, http.MethodPost, "/api/v1/orders/confirm", "buyer-1", map[string]string{"session_id": sessionID})
	require.Equal(t, http.StatusOK, w.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, int64(250), order.TotalAmount)
	assert.Equal(t, "Pune", order.ShippingAddress.City)

	// confirming again returns the same order
	w = ts.do(t, http.MethodPost, "/api/v1/orders/confirm", "buyer-1", map[string]string{"session_id": sessionID})
	require.Equal(t, http.StatusOK, w.Code)
	var again models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, order.ID, again.ID)

	w = ts.do(t, http.MethodPost, "/api/v1/orders/confirm", "buyer-2", map[string]string{"session_id": sessionID})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/orders", "buyer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["orders"], 1)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), "buyer-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), "buyer-2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirm_InsufficientStock(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.store.PutProduct(7, "Bed", 2000, 1)
	require.NoError(t, ts.store.AddCartItem(context.Background(), "buyer-1", 7, 2))
	ts.processor.AddSession("cs_stock", "buyer-1", payment.StatusPaid)

	w := ts.do(t, http.MethodPost, "/api/v1/orders/confirm", "buyer-1", map[string]string{"session_id": "cs_stock"})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, finalizeFailedMessage, body["error"])
	assert.Equal(t, float64(7), body["product_id"])
}

func TestCheckout_ProcessorUnavailable(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.store.PutProduct(1, "Collar", 100, 10)
	require.NoError(t, ts.store.AddCartItem(context.Background(), "buyer-1", 1, 1))
	ts.processor.CreateErr = fmt.Errorf("%w: 502", payment.ErrProcessorUnavailable)

	w := ts.do(t, http.MethodPost, "/api/v1/checkout", "buyer-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckout_RateLimited(t *testing.T) {
	opts := defaultOptions()
	opts.CheckoutRatePerMinute = 1
	opts.CheckoutBurst = 1
	ts := newTestServer(t, opts)

	w := ts.do(t, http.MethodPost, "/api/v1/checkout", "buyer-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/checkout", "buyer-1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.store.PutProduct(1, "Collar", 100, 10)
	require.NoError(t, ts.store.AddCartItem(context.Background(), "buyer-1", 1, 3))
	sess := ts.processor.AddSession("cs_hook", "buyer-1", payment.StatusPaid)
	ts.verifier.Event = &payment.Event{ID: "evt_1", Type: payment.EventCheckoutSessionCompleted, Session: sess}

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
		req.Header.Set("Stripe-Signature", signature)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	w := send("forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, ts.store.OrderCount())

	w = send("valid")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["received"])
	assert.Equal(t, 1, ts.store.OrderCount())
	assert.Equal(t, 7, ts.store.Stock(1))

	// failures after verification are still acknowledged
	ts.verifier.Event = &payment.Event{ID: "evt_2", Type: payment.EventCheckoutSessionCompleted,
		Session: &payment.Session{ID: "cs_other", PaymentStatus: payment.StatusPaid, BuyerID: "buyer-9"}}
	w = send("valid")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStripeWebhook_OversizedBody(t *testing.T) {
	ts := newTestServer(t, defaultOptions())
	ts.verifier.Event = &payment.Event{ID: "evt_big", Type: "payment_intent.created"}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(make([]byte, maxWebhookBody+1)))
	req.Header.Set("Stripe-Signature", "valid")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Payload too large", decode(t, w)["error"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidQuantity, http.StatusBadRequest},
		{service.ErrEmptyCart, http.StatusConflict},
		{&service.InsufficientStockError{ProductID: 1, Requested: 2}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", service.ErrPaymentNotConfirmed), http.StatusPaymentRequired},
		{service.ErrProcessorUnavailable, http.StatusServiceUnavailable},
		{service.ErrOrderNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
