package service

import (
	"context"
	"errors"

	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// WebhookService is the processor's entry into fulfillment
type WebhookService struct {
	verifier     payment.EventVerifier
	materializer *Materializer
	publisher    EventPublisher
	logger       *zap.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(verifier payment.EventVerifier, materializer *Materializer, publisher EventPublisher) *WebhookService {
	return &WebhookService{
		verifier:     verifier,
		materializer: materializer,
		publisher:    publisher,
		logger:       util.ComponentLogger("webhook"),
	}
}

// HandleEvent verifies and processes one delivery. The only error it returns
// is ErrInvalidSignature; everything after verification is acknowledged so the
// processor does not redeliver. Transient failures are retried through the
// event bus instead.
func (w *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookService.HandleEvent")
	defer span.End()

	event, err := w.verifier.VerifyEvent(payload, signatureHeader)
	if err != nil {
		util.FailSpan(span, err)
		if errors.Is(err, ErrInvalidSignature) {
			util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
			w.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
			return err
		}
		util.WebhookEventsTotal.WithLabelValues("unknown", "undecodable").Inc()
		w.logger.Error("Verified webhook could not be decoded", zap.Error(err))
		return nil
	}

	if event.Type != payment.EventCheckoutSessionCompleted {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		w.logger.Debug("Ignoring webhook event", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return nil
	}

	var sessionRef string
	if event.Session != nil {
		sessionRef = event.Session.ID
	}

	order, err := w.materializer.MaterializeSession(ctx, event.Session)
	if err == nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "materialized").Inc()
		w.logger.Info("Webhook materialized order",
			zap.String("event_id", event.ID),
			zap.Int64("order_id", order.ID))
		return nil
	}

	if isRejection(err) {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "rejected").Inc()
		w.logger.Error("Paid session could not be fulfilled",
			zap.String("event_id", event.ID),
			zap.String("session_ref", sessionRef),
			zap.Error(err))
		return nil
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "retry_scheduled").Inc()
	w.scheduleRetry(ctx, sessionRef, err)
	return nil
}

func (w *WebhookService) scheduleRetry(ctx context.Context, sessionRef string, cause error) {
	retry := NewRetryEvent(sessionRef, cause, 1)
	if err := w.publisher.PublishMaterializationRetry(ctx, retry); err != nil {
		w.logger.Error("Failed to schedule materialization retry",
			zap.String("session_ref", sessionRef),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}

	w.logger.Warn("Materialization failed, retry scheduled",
		zap.String("session_ref", sessionRef),
		zap.Error(cause))
}
