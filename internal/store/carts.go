package store

import (
	"context"

	"fulfillment-service/internal/models"
)

const cartLinesQuery = `
	SELECT c.product_id, c.quantity, p.name, p.description, p.image_url, p.price, p.quantity AS available
	FROM cart_items c
	JOIN products p ON p.id = c.product_id
	WHERE c.buyer_id = $1
	ORDER BY c.product_id`

// AddCartItem inserts an entry or adds qty to the existing one
func (s *Store) AddCartItem(ctx context.Context, buyerID string, productID int64, qty int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (buyer_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		buyerID, productID, qty)
	return err
}

// SetCartItemQuantity overwrites the quantity of an existing entry.
// Returns false when the buyer has no entry for the product.
func (s *Store) SetCartItemQuantity(ctx context.Context, buyerID string, productID int64, qty int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE buyer_id = $2 AND product_id = $3",
		qty, buyerID, productID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RemoveCartItem deletes a cart entry
func (s *Store) RemoveCartItem(ctx context.Context, buyerID string, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE buyer_id = $1 AND product_id = $2",
		buyerID, productID)
	return err
}

// GetCartLines returns the buyer's cart joined with live products.
// Entries whose product was deleted drop out of the join.
func (s *Store) GetCartLines(ctx context.Context, buyerID string) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := s.db.SelectContext(ctx, &lines, cartLinesQuery, buyerID)
	return lines, err
}
