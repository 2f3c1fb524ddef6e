package service

import (
	"errors"

	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/store"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrSessionOwnerUnknown = errors.New("checkout session carries no buyer")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrOutOfStock          = errors.New("product is out of stock")

	ErrInsufficientStock    = store.ErrInsufficientStock
	ErrProductNotFound      = store.ErrProductNotFound
	ErrOrderNotFound        = store.ErrOrderNotFound
	ErrInvalidSignature     = payment.ErrInvalidSignature
	ErrProcessorUnavailable = payment.ErrProcessorUnavailable
	ErrProcessorRejected    = payment.ErrProcessorRejected
)

// InsufficientStockError names the product that could not cover the request
type InsufficientStockError = store.InsufficientStockError

// isRejection reports whether err is a final business outcome for a session.
// Retrying a rejected session cannot succeed without outside intervention.
func isRejection(err error) bool {
	return errors.Is(err, ErrPaymentNotConfirmed) ||
		errors.Is(err, ErrSessionOwnerUnknown) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrProcessorRejected)
}

// failureReason is the metric label for a materialization error
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPaymentNotConfirmed):
		return "payment_not_confirmed"
	case errors.Is(err, ErrSessionOwnerUnknown):
		return "owner_unknown"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProcessorUnavailable):
		return "processor_unavailable"
	case errors.Is(err, ErrProcessorRejected):
		return "processor_rejected"
	default:
		return "internal"
	}
}
