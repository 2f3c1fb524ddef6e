package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// CartService handles the buyer's pre-checkout cart
type CartService struct {
	store  CartStore
	mirror StockMirror
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartStore, mirror StockMirror) *CartService {
	return &CartService{
		store:  store,
		mirror: mirror,
		logger: util.ComponentLogger("cart"),
	}
}

// Cart is the buyer's cart as shown to them
type Cart struct {
	BuyerID string            `json:"buyer_id"`
	Items   []models.CartLine `json:"items"`
	Total   int64             `json:"total"`
}

// Add puts qty of a product in the cart, summing with any existing entry
func (s *CartService) Add(ctx context.Context, buyerID string, productID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "CartService.Add")
	defer span.End()

	if qty < 1 {
		util.CartOperationsTotal.WithLabelValues("add", "invalid").Inc()
		return ErrInvalidQuantity
	}

	if err := s.checkAvailable(ctx, productID); err != nil {
		util.CartOperationsTotal.WithLabelValues("add", "rejected").Inc()
		return err
	}

	if err := s.store.AddCartItem(ctx, buyerID, productID, qty); err != nil {
		util.FailSpan(span, err)
		return fmt.Errorf("failed to add cart item: %w", err)
	}

	util.CartOperationsTotal.WithLabelValues("add", "ok").Inc()
	s.logger.Debug("Cart item added",
		zap.String("buyer_id", buyerID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty))
	return nil
}

// checkAvailable rejects unknown and sold-out products. The database decides;
// a mirrored zero the database contradicts is pushed back into the mirror.
func (s *CartService) checkAvailable(ctx context.Context, productID int64) error {
	mirrored, ok, err := s.mirror.GetStock(ctx, productID)
	if err != nil {
		s.logger.Warn("Stock mirror read failed",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if product.Quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrOutOfStock, productID)
	}

	if ok && mirrored <= 0 {
		s.repairMirror(ctx, product)
	}
	return nil
}

func (s *CartService) repairMirror(ctx context.Context, product *models.Product) {
	applied, err := s.mirror.SetStock(ctx, models.StockLevel{
		ProductID: product.ID,
		Available: product.Quantity,
		Version:   product.Version,
	})
	if err != nil {
		s.logger.Warn("Failed to repair stale stock mirror",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
		return
	}
	if applied {
		s.logger.Info("Stale stock mirror repaired",
			zap.Int64("product_id", product.ID),
			zap.Int("available", product.Quantity))
	}
}

// SetQuantity overwrites the quantity of an existing entry. Absent entries are left alone.
func (s *CartService) SetQuantity(ctx context.Context, buyerID string, productID int64, qty int) error {
	if qty < 1 {
		util.CartOperationsTotal.WithLabelValues("set_quantity", "invalid").Inc()
		return ErrInvalidQuantity
	}

	updated, err := s.store.SetCartItemQuantity(ctx, buyerID, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}

	outcome := "ok"
	if !updated {
		outcome = "noop"
	}
	util.CartOperationsTotal.WithLabelValues("set_quantity", outcome).Inc()
	return nil
}

// Remove deletes an entry. Removing an absent entry is not an error.
func (s *CartService) Remove(ctx context.Context, buyerID string, productID int64) error {
	if err := s.store.RemoveCartItem(ctx, buyerID, productID); err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	util.CartOperationsTotal.WithLabelValues("remove", "ok").Inc()
	return nil
}

// Get returns the cart with live product data. Entries whose product no longer
// exists are left out of the result but stay in storage.
func (s *CartService) Get(ctx context.Context, buyerID string) (*Cart, error) {
	lines, err := s.store.GetCartLines(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	cart := &Cart{BuyerID: buyerID, Items: lines}
	for _, line := range lines {
		cart.Total += line.Subtotal()
	}
	return cart, nil
}
