package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Tx is the set of writes allowed inside one fulfillment unit of work.
// Everything done through a Tx commits together or not at all.
type Tx interface {
	// LockCartLines locks the buyer's cart rows and returns them joined with live products
	LockCartLines(ctx context.Context, buyerID string) ([]models.CartLine, error)
	// TryDecrement atomically checks and decrements available stock
	TryDecrement(ctx context.Context, productID int64, amount int) (*Decrement, error)
	// InsertOrder inserts the order and its items; ErrDuplicateSession on a session ref conflict
	InsertOrder(ctx context.Context, order *models.Order) error
	// ClearCart empties the buyer's cart
	ClearCart(ctx context.Context, buyerID string) error
}

// RunInTx runs fn in a single database transaction. Any error from fn rolls back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) LockCartLines(ctx context.Context, buyerID string) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := t.tx.SelectContext(ctx, &lines, cartLinesQuery+" FOR UPDATE OF c", buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	return lines, nil
}

func (t *txStore) TryDecrement(ctx context.Context, productID int64, amount int) (*Decrement, error) {
	return tryDecrement(ctx, t.tx, productID, amount)
}

func (t *txStore) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.GetContext(ctx, order, `
		INSERT INTO orders (buyer_id, total_amount, shipping_address, payment_session_ref, payment_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orderColumns,
		order.BuyerID, order.TotalAmount, order.ShippingAddress, order.PaymentSessionRef, order.PaymentStatus)
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := t.tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Quantity, item.PriceAtPurchase)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return nil
}

func (t *txStore) ClearCart(ctx context.Context, buyerID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE buyer_id = $1", buyerID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
