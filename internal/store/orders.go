package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = "id, buyer_id, total_amount, shipping_address, payment_session_ref, payment_status, created_at"

// GetOrderByID retrieves an order and its items by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderBySessionRef retrieves an order by payment session reference.
// Returns nil, nil when no order exists.
func (s *Store) GetOrderBySessionRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE payment_session_ref = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if order.Items, err = s.GetOrderItemsByOrderID(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByBuyerID retrieves a buyer's orders, newest first, with items
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.NamedExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES (:event_id, :event_type) ON CONFLICT (event_id) DO NOTHING",
		models.ProcessedEvent{EventID: eventID, EventType: eventType})
	return err
}
