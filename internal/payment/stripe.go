package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fulfillment-service/internal/util"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// StripeProcessor talks to Stripe Checkout
type StripeProcessor struct {
	sessions      *session.Client
	webhookSecret string
	currency      string
	logger        *zap.Logger
}

// NewStripeProcessor creates a processor using the default Stripe API backend
func NewStripeProcessor(secretKey, webhookSecret, currency string) *StripeProcessor {
	return NewStripeProcessorWithBackend(stripe.GetBackend(stripe.APIBackend), secretKey, webhookSecret, currency)
}

// NewStripeProcessorWithBackend creates a processor on a custom backend
func NewStripeProcessorWithBackend(backend stripe.Backend, secretKey, webhookSecret, currency string) *StripeProcessor {
	return &StripeProcessor{
		sessions:      &session.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
		currency:      currency,
		logger:        util.GetLogger(),
	}
}

// CreateSession opens a hosted checkout session for the snapshot
func (p *StripeProcessor) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "StripeProcessor.CreateSession")
	defer span.End()

	metadata, err := buildMetadata(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session metadata: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if req.Shipping.Email != "" {
		params.CustomerEmail = stripe.String(req.Shipping.Email)
	}

	for _, item := range req.Items {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.ImageURL != "" {
			productData.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		if item.Description != "" {
			productData.Description = stripe.String(truncate(item.Description, 100))
		}

		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(p.currency),
				ProductData: productData,
				UnitAmount:  stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	start := time.Now()
	cs, err := p.sessions.New(params)
	util.ProcessorRequestLatency.WithLabelValues("create_session").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyError(err)
	}

	p.logger.Info("Checkout session created",
		zap.String("session_ref", cs.ID),
		zap.String("buyer_id", req.BuyerID))

	return p.sessionFromStripe(cs), nil
}

// RetrieveSession fetches the current payment status of a session
func (p *StripeProcessor) RetrieveSession(ctx context.Context, sessionRef string) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "StripeProcessor.RetrieveSession")
	defer span.End()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	start := time.Now()
	cs, err := p.sessions.Get(sessionRef, params)
	util.ProcessorRequestLatency.WithLabelValues("retrieve_session").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyError(err)
	}

	return p.sessionFromStripe(cs), nil
}

// VerifyEvent checks the Stripe-Signature header and decodes the event
func (p *StripeProcessor) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" || p.webhookSecret == "" {
		return nil, fmt.Errorf("%w: missing signature or webhook secret", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if out.Type == EventCheckoutSessionCompleted && event.Data != nil {
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Session = p.sessionFromStripe(&cs)
	}

	return out, nil
}

func (p *StripeProcessor) sessionFromStripe(cs *stripe.CheckoutSession) *Session {
	s := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: PaymentStatus(cs.PaymentStatus),
		CustomerEmail: cs.CustomerEmail,
	}
	if s.CustomerEmail == "" && cs.CustomerDetails != nil {
		s.CustomerEmail = cs.CustomerDetails.Email
	}
	if err := parseMetadata(cs.Metadata, s); err != nil {
		p.logger.Warn("Checkout session shipping metadata ignored",
			zap.String("session_ref", cs.ID),
			zap.Error(err))
	}
	return s
}

// classifyError separates transient processor failures from permanent ones.
// A rejected request fails the same way on every retry.
func classifyError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %v", ErrProcessorRejected, err)
	default:
		return fmt.Errorf("stripe request failed: %w", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
