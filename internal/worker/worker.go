package worker

import (
	"context"
	"log"
	"time"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/service"
)

const retryDelay = 5 * time.Second

// FulfillmentWorker consumes fulfillment events: it keeps the stock mirror in
// step with committed orders and re-runs webhook deliveries that failed transiently.
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(
	consumer *broker.Consumer,
	inventory *service.InventorySync,
	materializer *service.Materializer,
) *FulfillmentWorker {
	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: NewEventHandler(inventory, materializer),
	}
}

// NewEventHandler routes fulfillment events to the services that own them
func NewEventHandler(inventory *service.InventorySync, materializer *service.Materializer) *broker.EventHandler {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderMaterialized(inventory.HandleOrderMaterialized)
	eventHandler.OnMaterializationRetry(materializer.HandleMaterializationRetry)
	return eventHandler
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	log.Println("Starting fulfillment worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage, retryDelay)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	log.Println("Stopping fulfillment worker...")
	return w.consumer.Close()
}
