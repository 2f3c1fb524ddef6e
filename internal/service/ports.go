package service

import (
	"context"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// OrderStore is the persistence the materializer needs. *store.Store implements it.
type OrderStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderBySessionRef(ctx context.Context, ref string) (*models.Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID string) ([]models.Order, error)
}

// CartStore is the persistence behind cart operations
type CartStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	AddCartItem(ctx context.Context, buyerID string, productID int64, qty int) error
	SetCartItemQuantity(ctx context.Context, buyerID string, productID int64, qty int) (bool, error)
	RemoveCartItem(ctx context.Context, buyerID string, productID int64) error
	GetCartLines(ctx context.Context, buyerID string) ([]models.CartLine, error)
}

// CatalogStore lists products for mirror seeding and records handled events
type CatalogStore interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// StockMirror is a read-optimized copy of available stock
type StockMirror interface {
	GetStock(ctx context.Context, productID int64) (available int, ok bool, err error)
	SetStock(ctx context.Context, level models.StockLevel) (bool, error)
	InitInventory(ctx context.Context, level models.StockLevel) error
}

// OrderRefCache maps payment session refs to order ids
type OrderRefCache interface {
	CacheOrderRef(ctx context.Context, ref string, orderID int64, ttl time.Duration) error
	GetCachedOrderRef(ctx context.Context, ref string) (orderID int64, ok bool, err error)
}

// EventPublisher emits fulfillment events. *broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderMaterialized(ctx context.Context, event *models.OrderMaterializedEvent) error
	PublishMaterializationRetry(ctx context.Context, event *models.MaterializationRetryEvent) error
}
