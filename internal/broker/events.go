package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing fulfillment events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderMaterialized publishes OrderMaterialized event
func (ep *EventPublisher) PublishOrderMaterialized(ctx context.Context, event *models.OrderMaterializedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.PaymentSessionRef), event)
}

// PublishMaterializationRetry publishes MaterializationRetry event
func (ep *EventPublisher) PublishMaterializationRetry(ctx context.Context, event *models.MaterializationRetryEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.PaymentSessionRef), event)
}

func sessionKey(ref string) string {
	return fmt.Sprintf("session-%s", ref)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderMaterialized    func(context.Context, *models.OrderMaterializedEvent) error
	onMaterializationRetry func(context.Context, *models.MaterializationRetryEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnOrderMaterialized registers a handler for OrderMaterialized events
func (eh *EventHandler) OnOrderMaterialized(handler func(context.Context, *models.OrderMaterializedEvent) error) {
	eh.onOrderMaterialized = handler
}

// OnMaterializationRetry registers a handler for MaterializationRetry events
func (eh *EventHandler) OnMaterializationRetry(handler func(context.Context, *models.MaterializationRetryEvent) error) {
	eh.onMaterializationRetry = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable messages
// are logged and dropped, since redelivery would never fix them.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderMaterialized:
		if eh.onOrderMaterialized != nil {
			var event models.OrderMaterializedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping malformed OrderMaterialized event", zap.Error(err))
				return nil
			}
			return eh.onOrderMaterialized(ctx, &event)
		}

	case models.EventTypeMaterializationRetry:
		if eh.onMaterializationRetry != nil {
			var event models.MaterializationRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping malformed MaterializationRetry event", zap.Error(err))
				return nil
			}
			return eh.onMaterializationRetry(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
