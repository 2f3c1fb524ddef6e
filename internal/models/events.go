package models

import "time"

// Event types
const (
	EventTypeOrderMaterialized    = "ORDER_MATERIALIZED"
	EventTypeMaterializationRetry = "MATERIALIZATION_RETRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderMaterializedEvent published after the fulfillment transaction commits
type OrderMaterializedEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	BuyerID           string          `json:"buyer_id"`
	PaymentSessionRef string          `json:"payment_session_ref"`
	TotalAmount       int64           `json:"total_amount"`
	Items             []OrderItemData `json:"items"`
	StockLevels       []StockLevel    `json:"stock_levels"`
}

// MaterializationRetryEvent asks a worker to re-run materialization for a session
// whose webhook delivery hit a transient failure.
type MaterializationRetryEvent struct {
	BaseEvent
	PaymentSessionRef string `json:"payment_session_ref"`
	Reason            string `json:"reason"`
	Attempt           int    `json:"attempt"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID       int64 `json:"product_id"`
	Quantity        int   `json:"quantity"`
	PriceAtPurchase int64 `json:"price_at_purchase"`
}
