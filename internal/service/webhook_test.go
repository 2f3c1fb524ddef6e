package service

import (
	"context"
	"errors"
	"testing"

	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/service/servicetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedEvent(sess *payment.Session) *payment.Event {
	return &payment.Event{ID: "evt_1", Type: payment.EventCheckoutSessionCompleted, Session: sess}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h := newHarness()
	verifier := &servicetest.Verifier{}
	svc := NewWebhookService(verifier, h.m, h.publisher)

	err := svc.HandleEvent(context.Background(), []byte(`{}`), "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, h.store.TxCount)
}

func TestWebhook_CompletedSessionMaterializes(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.store.PutProduct(1, "Food", 100, 10)
	require.NoError(t, h.store.AddCartItem(ctx, "buyer-1", 1, 2))
	sess := h.processor.AddSession("cs_W", "buyer-1", payment.StatusPaid)

	svc := NewWebhookService(&servicetest.Verifier{Event: completedEvent(sess)}, h.m, h.publisher)

	require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "valid"))
	require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "valid"), "redelivery is acknowledged")

	assert.Equal(t, 1, h.store.OrderCount())
	assert.Equal(t, 8, h.store.Stock(1))
	assert.Equal(t, 0, h.processor.Retrievals)
}

func TestWebhook_IgnoresOtherEventTypes(t *testing.T) {
	h := newHarness()
	svc := NewWebhookService(&servicetest.Verifier{Event: &payment.Event{ID: "evt_2", Type: "payment_intent.created"}}, h.m, h.publisher)

	require.NoError(t, svc.HandleEvent(context.Background(), []byte(`{}`), "valid"))
	assert.Equal(t, 0, h.store.TxCount)
	assert.Empty(t, h.publisher.Retries)
}

func TestWebhook_SwallowsRejections(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.store.PutProduct(1, "Food", 100, 1)
	require.NoError(t, h.store.AddCartItem(ctx, "buyer-1", 1, 2))
	sess := h.processor.AddSession("cs_X", "buyer-1", payment.StatusPaid)

	svc := NewWebhookService(&servicetest.Verifier{Event: completedEvent(sess)}, h.m, h.publisher)

	assert.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "valid"))
	assert.Equal(t, 0, h.store.OrderCount())
	assert.Empty(t, h.publisher.Retries, "stock shortage is not retried")
}

func TestWebhook_UnpaidAndMissingSession(t *testing.T) {
	h := newHarness()
	unpaid := h.processor.AddSession("cs_Y", "buyer-1", payment.StatusUnpaid)

	for _, event := range []*payment.Event{completedEvent(unpaid), completedEvent(nil)} {
		svc := NewWebhookService(&servicetest.Verifier{Event: event}, h.m, h.publisher)
		assert.NoError(t, svc.HandleEvent(context.Background(), []byte(`{}`), "valid"))
	}
	assert.Equal(t, 0, h.store.OrderCount())
	assert.Empty(t, h.publisher.Retries)
}

func TestWebhook_TransientFailureSchedulesRetry(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.store.PutProduct(1, "Food", 100, 10)
	require.NoError(t, h.store.AddCartItem(ctx, "buyer-1", 1, 1))
	sess := h.processor.AddSession("cs_Z", "buyer-1", payment.StatusPaid)
	h.store.FailInsert = errors.New("connection reset")

	svc := NewWebhookService(&servicetest.Verifier{Event: completedEvent(sess)}, h.m, h.publisher)

	assert.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "valid"))
	require.Len(t, h.publisher.Retries, 1)
	assert.Equal(t, "cs_Z", h.publisher.Retries[0].PaymentSessionRef)
	assert.Equal(t, 1, h.publisher.Retries[0].Attempt)
	assert.Equal(t, 10, h.store.Stock(1))
}
