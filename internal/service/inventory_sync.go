package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// InventorySync keeps the Redis stock mirror and order-ref cache in step with
// committed fulfillment. Postgres is always the source of truth.
type InventorySync struct {
	catalog  CatalogStore
	mirror   StockMirror
	cache    OrderRefCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewInventorySync creates a new inventory sync
func NewInventorySync(catalog CatalogStore, mirror StockMirror, cache OrderRefCache, cacheTTL time.Duration) *InventorySync {
	return &InventorySync{
		catalog:  catalog,
		mirror:   mirror,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.ComponentLogger("inventory-sync"),
	}
}

// SyncInventoryToRedis seeds the stock mirror from the database
func (s *InventorySync) SyncInventoryToRedis(ctx context.Context) error {
	s.logger.Info("Starting inventory sync to Redis")

	products, err := s.catalog.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	failed := 0
	for _, product := range products {
		level := models.StockLevel{
			ProductID: product.ID,
			Available: product.Quantity,
			Version:   product.Version,
		}
		if err := s.mirror.InitInventory(ctx, level); err != nil {
			failed++
			s.logger.Error("Failed to init Redis inventory",
				zap.Int64("product_id", product.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Inventory sync completed",
		zap.Int("count", len(products)),
		zap.Int("failed", failed))
	return nil
}

// ApplyStockLevels pushes post-decrement levels into the mirror. Older
// versions than what the mirror holds are ignored by the mirror itself.
func (s *InventorySync) ApplyStockLevels(ctx context.Context, levels []models.StockLevel) {
	for _, level := range levels {
		if _, err := s.mirror.SetStock(ctx, level); err != nil {
			s.logger.Warn("Failed to sync stock mirror",
				zap.Int64("product_id", level.ProductID),
				zap.Error(err))
		}
	}
}

// HandleOrderMaterialized applies a committed order to the mirror and cache once per event
func (s *InventorySync) HandleOrderMaterialized(ctx context.Context, event *models.OrderMaterializedEvent) error {
	ctx, span := util.StartSpan(ctx, "InventorySync.HandleOrderMaterialized")
	defer span.End()

	processed, err := s.catalog.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		util.FailSpan(span, err)
		return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
	}
	if processed {
		s.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	s.ApplyStockLevels(ctx, event.StockLevels)

	if err := s.cache.CacheOrderRef(ctx, event.PaymentSessionRef, event.OrderID, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to warm order-ref cache",
			zap.String("session_ref", event.PaymentSessionRef),
			zap.Error(err))
	}

	if err := s.catalog.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		util.FailSpan(span, err)
		return fmt.Errorf("failed to mark event %s processed: %w", event.EventID, err)
	}
	return nil
}
