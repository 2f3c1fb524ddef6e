package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Product represents a catalog product. Quantity is the available stock.
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	Price       int64     `db:"price" json:"price"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Version     int64     `db:"version" json:"version"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is a cart entry joined with the live product record
type CartLine struct {
	ProductID   int64  `db:"product_id" json:"product_id"`
	Quantity    int    `db:"quantity" json:"quantity"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	ImageURL    string `db:"image_url" json:"image_url"`
	Price       int64  `db:"price" json:"price"`
	Available   int    `db:"available" json:"available"`
}

// Subtotal returns price times quantity for the line
func (l CartLine) Subtotal() int64 {
	return l.Price * int64(l.Quantity)
}

// ShippingAddress is the delivery destination captured at checkout
type ShippingAddress struct {
	FullName   string `json:"full_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Value stores the address as JSONB
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan reads the address from a JSONB column
func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// Order represents a materialized, paid order
type Order struct {
	ID                int64           `db:"id" json:"id"`
	BuyerID           string          `db:"buyer_id" json:"buyer_id"`
	TotalAmount       int64           `db:"total_amount" json:"total_amount"`
	ShippingAddress   ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentSessionRef string          `db:"payment_session_ref" json:"payment_session_ref"`
	PaymentStatus     string          `db:"payment_status" json:"payment_status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	Items             []OrderItem     `db:"-" json:"items"`
}

// OrderItem represents items in an order. ProductID is informational only.
type OrderItem struct {
	ID              int64 `db:"id" json:"id"`
	OrderID         int64 `db:"order_id" json:"order_id"`
	ProductID       int64 `db:"product_id" json:"product_id"`
	Quantity        int   `db:"quantity" json:"quantity"`
	PriceAtPurchase int64 `db:"price_at_purchase" json:"price_at_purchase"`
}

// CalculateTotal sums price at purchase times quantity over items
func CalculateTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceAtPurchase * int64(item.Quantity)
	}
	return total
}

// StockLevel is a product's available quantity after a ledger write
type StockLevel struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Version   int64 `json:"version"`
}

// Order payment statuses
const (
	PaymentStatusPaid = "paid"
)

// ProcessedEvent records a consumed event for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
