package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Materialization triggers
const (
	TriggerConfirmation = "confirmation"
	TriggerWebhook      = "webhook"
	TriggerRetry        = "retry"
)

// Materializer turns a paid checkout session into exactly one order.
//
// Per session ref the lifecycle is unseen -> materializing -> committed, or
// rejected. Only the database decides who wins: the unique session ref on
// orders and the conditional stock decrement. Every entry point may be called
// any number of times, concurrently, from any instance.
type Materializer struct {
	store     OrderStore
	processor payment.Processor
	cache     OrderRefCache
	inventory *InventorySync
	publisher EventPublisher
	cacheTTL  time.Duration
	timeout   time.Duration
	maxRetry  int
	backoff   time.Duration
	logger    *zap.Logger
}

const defaultMaxRetryAttempts = 5

// MaterializerConfig tunes the order-ref cache, processor timeout and retries.
// Retry attempt n is not run before its event timestamp plus n*RetryBackoff.
type MaterializerConfig struct {
	OrderCacheTTL    time.Duration
	ProcessorTimeout time.Duration
	MaxRetryAttempts int
	RetryBackoff     time.Duration
}

// NewMaterializer creates a new materializer
func NewMaterializer(
	store OrderStore,
	processor payment.Processor,
	cache OrderRefCache,
	inventory *InventorySync,
	publisher EventPublisher,
	cfg MaterializerConfig,
) *Materializer {
	maxRetry := cfg.MaxRetryAttempts
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetryAttempts
	}
	return &Materializer{
		store:     store,
		processor: processor,
		cache:     cache,
		inventory: inventory,
		publisher: publisher,
		cacheTTL:  cfg.OrderCacheTTL,
		timeout:   cfg.ProcessorTimeout,
		maxRetry:  maxRetry,
		backoff:   cfg.RetryBackoff,
		logger:    util.ComponentLogger("materializer"),
	}
}

// Materialize resolves sessionRef to its order, asking the processor for the
// payment status when no order exists yet.
func (m *Materializer) Materialize(ctx context.Context, sessionRef string) (*models.Order, error) {
	return m.materialize(ctx, sessionRef, TriggerConfirmation, m.retrieveSession)
}

// MaterializeSession resolves a session that was already verified by signature.
// The processor is not consulted.
func (m *Materializer) MaterializeSession(ctx context.Context, sess *payment.Session) (*models.Order, error) {
	if sess == nil || sess.ID == "" {
		return nil, fmt.Errorf("%w: event carries no session", ErrPaymentNotConfirmed)
	}
	return m.materialize(ctx, sess.ID, TriggerWebhook, func(context.Context, string) (*payment.Session, error) {
		return sess, nil
	})
}

// Confirm materializes on behalf of a signed-in buyer. The order belongs to
// the buyer recorded on the session; a caller asking about someone else's
// session gets ErrOrderNotFound.
func (m *Materializer) Confirm(ctx context.Context, callerID, sessionRef string) (*models.Order, error) {
	order, err := m.Materialize(ctx, sessionRef)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID {
		m.logger.Warn("Confirmation by non-owner",
			zap.String("session_ref", sessionRef),
			zap.String("caller_id", callerID))
		return nil, fmt.Errorf("%w: session %s", ErrOrderNotFound, sessionRef)
	}
	return order, nil
}

// HandleMaterializationRetry re-runs a webhook delivery that failed transiently.
// Rejections are final and acknowledged. A transient failure is rescheduled as
// the next attempt until the attempts run out; the error is returned only when
// the next attempt cannot be published, so the message is redelivered.
func (m *Materializer) HandleMaterializationRetry(ctx context.Context, event *models.MaterializationRetryEvent) error {
	attempt := event.Attempt
	if attempt < 1 {
		attempt = 1
	}
	if err := m.waitForAttempt(ctx, event.Timestamp, attempt); err != nil {
		return err
	}

	_, err := m.materialize(ctx, event.PaymentSessionRef, TriggerRetry, m.retrieveSession)
	if err == nil {
		return nil
	}
	if isRejection(err) {
		m.logger.Error("Retried session rejected, needs manual reconciliation",
			zap.String("session_ref", event.PaymentSessionRef),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil
	}
	if attempt >= m.maxRetry {
		util.MaterializationsFailedTotal.WithLabelValues("retries_exhausted").Inc()
		m.logger.Error("Materialization retries exhausted, needs manual reconciliation",
			zap.String("session_ref", event.PaymentSessionRef),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil
	}

	next := NewRetryEvent(event.PaymentSessionRef, err, attempt+1)
	if pubErr := m.publisher.PublishMaterializationRetry(ctx, next); pubErr != nil {
		return fmt.Errorf("failed to reschedule materialization of %s: %w", event.PaymentSessionRef, pubErr)
	}
	m.logger.Warn("Materialization retry rescheduled",
		zap.String("session_ref", event.PaymentSessionRef),
		zap.Int("next_attempt", next.Attempt),
		zap.Error(err))
	return nil
}

// NewRetryEvent builds the retry request for a session's given attempt
func NewRetryEvent(sessionRef string, cause error, attempt int) *models.MaterializationRetryEvent {
	return &models.MaterializationRetryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeMaterializationRetry,
			Timestamp: time.Now(),
		},
		PaymentSessionRef: sessionRef,
		Reason:            cause.Error(),
		Attempt:           attempt,
	}
}

func (m *Materializer) waitForAttempt(ctx context.Context, scheduled time.Time, attempt int) error {
	if m.backoff <= 0 || scheduled.IsZero() {
		return nil
	}
	wait := time.Until(scheduled.Add(time.Duration(attempt) * m.backoff))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetOrder returns a buyer's order by id
func (m *Materializer) GetOrder(ctx context.Context, buyerID string, orderID int64) (*models.Order, error) {
	order, err := m.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns a buyer's orders, newest first
func (m *Materializer) ListOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	return m.store.GetOrdersByBuyerID(ctx, buyerID)
}

type sessionSource func(ctx context.Context, sessionRef string) (*payment.Session, error)

func (m *Materializer) retrieveSession(ctx context.Context, sessionRef string) (*payment.Session, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	sess, err := m.processor.RetrieveSession(ctx, sessionRef)
	if errors.Is(err, payment.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotConfirmed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrProcessorUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	return sess, err
}

func (m *Materializer) materialize(ctx context.Context, sessionRef, trigger string, source sessionSource) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Materializer.Materialize")
	defer span.End()

	order, err := m.existingOrder(ctx, sessionRef)
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}
	if order != nil {
		util.MaterializationsDeduplicatedTotal.WithLabelValues("lookup").Inc()
		return order, nil
	}

	sess, err := source(ctx, sessionRef)
	if err == nil {
		err = checkSession(sess)
	}
	if err != nil {
		m.fail(span, sessionRef, trigger, err)
		return nil, err
	}

	order, levels, err := m.commit(ctx, sessionRef, sess)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateSession), errors.Is(err, ErrEmptyCart):
		// A concurrent trigger may have committed first and cleared the cart.
		winner, lookupErr := m.store.GetOrderBySessionRef(ctx, sessionRef)
		if lookupErr != nil {
			m.fail(span, sessionRef, trigger, lookupErr)
			return nil, lookupErr
		}
		if winner != nil {
			util.MaterializationsDeduplicatedTotal.WithLabelValues("tie_break").Inc()
			m.logger.Info("Session already materialized by a concurrent trigger",
				zap.String("session_ref", sessionRef),
				zap.Int64("order_id", winner.ID))
			return winner, nil
		}
		if errors.Is(err, store.ErrDuplicateSession) {
			err = fmt.Errorf("order for session %s conflicts but cannot be read back: %w", sessionRef, err)
		}
		m.fail(span, sessionRef, trigger, err)
		return nil, err
	default:
		m.fail(span, sessionRef, trigger, err)
		return nil, err
	}

	util.OrdersMaterializedTotal.WithLabelValues(trigger).Inc()
	m.logger.Info("Order materialized",
		zap.String("session_ref", sessionRef),
		zap.String("trigger", trigger),
		zap.Int64("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.Int64("total_amount", order.TotalAmount))

	m.afterCommit(ctx, order, levels)
	return order, nil
}

func checkSession(sess *payment.Session) error {
	if !sess.IsPaid() {
		status := payment.PaymentStatus("")
		if sess != nil {
			status = sess.PaymentStatus
		}
		return fmt.Errorf("%w: status %q", ErrPaymentNotConfirmed, status)
	}
	if sess.BuyerID == "" {
		return ErrSessionOwnerUnknown
	}
	return nil
}

// existingOrder looks in the order-ref cache first and the database second.
// The cache is a hint: a cached id that no longer resolves is ignored.
func (m *Materializer) existingOrder(ctx context.Context, sessionRef string) (*models.Order, error) {
	orderID, ok, err := m.cache.GetCachedOrderRef(ctx, sessionRef)
	if err != nil {
		m.logger.Warn("Order-ref cache read failed", zap.String("session_ref", sessionRef), zap.Error(err))
	}
	if err == nil && ok {
		order, err := m.store.GetOrderByID(ctx, orderID)
		if err == nil && order.PaymentSessionRef == sessionRef {
			return order, nil
		}
		if err != nil && !errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to load cached order %d: %w", orderID, err)
		}
	}

	order, err := m.store.GetOrderBySessionRef(ctx, sessionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to look up order for session %s: %w", sessionRef, err)
	}
	return order, nil
}

// commit is the fulfillment unit of work. Nothing inside it talks to the network.
func (m *Materializer) commit(ctx context.Context, sessionRef string, sess *payment.Session) (*models.Order, []models.StockLevel, error) {
	start := time.Now()
	defer func() {
		util.MaterializationLatency.Observe(time.Since(start).Seconds())
	}()

	var (
		order  *models.Order
		levels []models.StockLevel
	)

	err := m.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lines, err := tx.LockCartLines(ctx, sess.BuyerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		// ascending product id keeps concurrent units from deadlocking
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

		items := make([]models.OrderItem, 0, len(lines))
		levels = make([]models.StockLevel, 0, len(lines))
		for _, line := range lines {
			d, err := tx.TryDecrement(ctx, line.ProductID, line.Quantity)
			if err != nil {
				if errors.Is(err, ErrInsufficientStock) {
					util.StockDecrementsFailed.Inc()
				}
				return err
			}
			items = append(items, models.OrderItem{
				ProductID:       line.ProductID,
				Quantity:        line.Quantity,
				PriceAtPurchase: d.Price,
			})
			levels = append(levels, models.StockLevel{
				ProductID: d.ProductID,
				Available: d.Available,
				Version:   d.Version,
			})
		}

		o := &models.Order{
			BuyerID:           sess.BuyerID,
			TotalAmount:       models.CalculateTotal(items),
			ShippingAddress:   sess.Shipping,
			PaymentSessionRef: sessionRef,
			PaymentStatus:     models.PaymentStatusPaid,
			Items:             items,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		if err := tx.ClearCart(ctx, sess.BuyerID); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, levels, nil
}

// afterCommit caches the ref and announces the order. The worker consuming the
// event syncs the stock mirror; if publishing fails the mirror is synced here.
func (m *Materializer) afterCommit(ctx context.Context, order *models.Order, levels []models.StockLevel) {
	if err := m.cache.CacheOrderRef(ctx, order.PaymentSessionRef, order.ID, m.cacheTTL); err != nil {
		m.logger.Warn("Failed to cache order ref",
			zap.String("session_ref", order.PaymentSessionRef),
			zap.Error(err))
	}

	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}

	event := &models.OrderMaterializedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderMaterialized,
			Timestamp: time.Now(),
		},
		OrderID:           order.ID,
		BuyerID:           order.BuyerID,
		PaymentSessionRef: order.PaymentSessionRef,
		TotalAmount:       order.TotalAmount,
		Items:             items,
		StockLevels:       levels,
	}

	if err := m.publisher.PublishOrderMaterialized(ctx, event); err != nil {
		m.logger.Error("Failed to publish OrderMaterialized event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		m.inventory.ApplyStockLevels(ctx, levels)
	}
}

func (m *Materializer) fail(span trace.Span, sessionRef, trigger string, err error) {
	util.FailSpan(span, err)
	util.MaterializationsFailedTotal.WithLabelValues(failureReason(err)).Inc()

	level := zap.ErrorLevel
	if errors.Is(err, ErrPaymentNotConfirmed) {
		level = zap.WarnLevel
	}
	m.logger.Check(level, "Materialization failed").Write(
		zap.String("session_ref", sessionRef),
		zap.String("trigger", trigger),
		zap.Error(err))
}
