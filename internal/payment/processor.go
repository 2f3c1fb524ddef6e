package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"
)

var (
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrProcessorRejected    = errors.New("payment processor rejected the request")
)

// Metadata keys written on every checkout session
const (
	MetadataBuyerID  = "buyer_id"
	MetadataShipping = "shipping"
	MetadataSource   = "source"

	metadataSourceValue = "furrever_store"
)

// Event types the ingress cares about
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// PaymentStatus of a checkout session as reported by the processor
type PaymentStatus string

const (
	StatusPaid              PaymentStatus = "paid"
	StatusUnpaid            PaymentStatus = "unpaid"
	StatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Session is the engine's read-only view of a processor checkout session
type Session struct {
	ID            string
	URL           string
	PaymentStatus PaymentStatus
	BuyerID       string
	Shipping      models.ShippingAddress
	CustomerEmail string
}

// IsPaid reports whether the processor confirmed payment
func (s *Session) IsPaid() bool {
	return s != nil && s.PaymentStatus == StatusPaid
}

// LineItem is one priced snapshot line sent to the processor
type LineItem struct {
	ProductID   int64
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64
	Quantity    int
}

// CreateSessionRequest carries everything needed to open a hosted checkout
type CreateSessionRequest struct {
	BuyerID    string
	Items      []LineItem
	Shipping   models.ShippingAddress
	SuccessURL string
	CancelURL  string
}

// Event is a verified processor notification
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Processor is the external payment processor
type Processor interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionRef string) (*Session, error)
}

// EventVerifier authenticates raw webhook payloads
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}

// buildMetadata encodes ownership and shipping so later verification does not
// depend on anything the client sends.
func buildMetadata(req *CreateSessionRequest) (map[string]string, error) {
	shipping, err := json.Marshal(req.Shipping)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		MetadataBuyerID:  req.BuyerID,
		MetadataShipping: string(shipping),
		MetadataSource:   metadataSourceValue,
	}, nil
}

// parseMetadata fills ownership and shipping from session metadata. A shipping
// value that does not decode leaves an empty destination and is reported.
func parseMetadata(md map[string]string, s *Session) error {
	var err error
	s.BuyerID = md[MetadataBuyerID]
	if raw := md[MetadataShipping]; raw != "" {
		if err = json.Unmarshal([]byte(raw), &s.Shipping); err != nil {
			s.Shipping = models.ShippingAddress{}
			err = fmt.Errorf("malformed %s metadata: %w", MetadataShipping, err)
		}
	}
	if s.Shipping.Email == "" {
		s.Shipping.Email = s.CustomerEmail
	}
	return err
}
