package api

import (
	"errors"
	"net/http"

	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
)

const finalizeFailedMessage = "payment could not be finalized, contact support"

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrOutOfStock):
		return http.StatusConflict
	case errors.Is(err, service.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrProcessorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	body := gin.H{"error": message}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	} else {
		body["details"] = err.Error()
	}

	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
	}

	c.JSON(status, body)
}
