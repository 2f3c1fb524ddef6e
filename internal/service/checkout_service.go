package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutService opens processor checkout sessions. It persists nothing:
// the session itself carries buyer and shipping until materialization.
type CheckoutService struct {
	carts      CartStore
	processor  payment.Processor
	successURL string
	cancelURL  string
	timeout    time.Duration
	logger     *zap.Logger
}

// CheckoutConfig holds redirect targets and the processor call timeout
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(carts CartStore, processor payment.Processor, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		carts:      carts,
		processor:  processor,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		timeout:    cfg.Timeout,
		logger:     util.ComponentLogger("checkout"),
	}
}

// CheckoutRequest is a priced snapshot of what the buyer is about to pay for
type CheckoutRequest struct {
	BuyerID  string
	Lines    []models.CartLine
	Shipping models.ShippingAddress
}

// CheckoutResponse is returned to the buyer for redirection
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CheckoutFromCart snapshots the buyer's stored cart and initiates checkout with it
func (s *CheckoutService) CheckoutFromCart(ctx context.Context, buyerID string, shipping models.ShippingAddress) (*CheckoutResponse, error) {
	lines, err := s.carts.GetCartLines(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	return s.Initiate(ctx, &CheckoutRequest{
		BuyerID:  buyerID,
		Lines:    lines,
		Shipping: shipping,
	})
}

// Initiate opens a hosted checkout session for the snapshot
func (s *CheckoutService) Initiate(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Initiate")
	defer span.End()

	if len(req.Lines) == 0 {
		util.CheckoutSessionsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	items := make([]payment.LineItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity < 1 {
			util.CheckoutSessionsFailedTotal.WithLabelValues("invalid_quantity").Inc()
			return nil, fmt.Errorf("%w: product %d", ErrInvalidQuantity, line.ProductID)
		}
		items = append(items, payment.LineItem{
			ProductID:   line.ProductID,
			Name:        line.Name,
			Description: line.Description,
			ImageURL:    line.ImageURL,
			UnitAmount:  line.Price,
			Quantity:    line.Quantity,
		})
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sess, err := s.processor.CreateSession(ctx, &payment.CreateSessionRequest{
		BuyerID:    req.BuyerID,
		Items:      items,
		Shipping:   req.Shipping,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		util.FailSpan(span, err)
		util.CheckoutSessionsFailedTotal.WithLabelValues("processor").Inc()
		s.logger.Error("Failed to create checkout session",
			zap.String("buyer_id", req.BuyerID),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
		}
		return nil, err
	}

	util.CheckoutSessionsCreatedTotal.Inc()
	s.logger.Info("Checkout initiated",
		zap.String("buyer_id", req.BuyerID),
		zap.String("session_ref", sess.ID),
		zap.Int("lines", len(items)))

	return &CheckoutResponse{SessionID: sess.ID, URL: sess.URL}, nil
}
