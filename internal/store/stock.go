package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrInsufficientStock is matched by every InsufficientStockError
var ErrInsufficientStock = errors.New("insufficient stock")

// InsufficientStockError names the product whose decrement was refused
type InsufficientStockError struct {
	ProductID int64
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested=%d", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Decrement is the ledger state of a product right after a successful decrement.
// Price is read under the same row lock.
type Decrement struct {
	ProductID int64 `db:"id"`
	Available int   `db:"quantity"`
	Version   int64 `db:"version"`
	Price     int64 `db:"price"`
}

// tryDecrement is a single conditional UPDATE: the check and the write happen
// under one row lock, so concurrent callers serialize on the product row.
func tryDecrement(ctx context.Context, q sqlx.QueryerContext, productID int64, amount int) (*Decrement, error) {
	if amount < 1 {
		return nil, fmt.Errorf("invalid decrement amount %d for product %d", amount, productID)
	}

	var d Decrement
	err := sqlx.GetContext(ctx, q, &d, `
		UPDATE products
		SET quantity = quantity - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND quantity >= $1
		RETURNING id, quantity, version, price`,
		amount, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &InsufficientStockError{ProductID: productID, Requested: amount}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decrement stock for product %d: %w", productID, err)
	}

	return &d, nil
}
