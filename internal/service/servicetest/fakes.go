// Package servicetest provides in-memory stand-ins for the stores, cache,
// event bus and payment processor the fulfillment services depend on.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/store"
)

// state is the full database content of Store
type state struct {
	products    map[int64]models.Product
	carts       map[string]map[int64]int
	orders      map[int64]models.Order
	byRef       map[string]int64
	processed   map[string]bool
	nextOrderID int64
	nextItemID  int64
}

func (st *state) clone() *state {
	c := &state{
		products:    make(map[int64]models.Product, len(st.products)),
		carts:       make(map[string]map[int64]int, len(st.carts)),
		orders:      make(map[int64]models.Order, len(st.orders)),
		byRef:       make(map[string]int64, len(st.byRef)),
		processed:   make(map[string]bool, len(st.processed)),
		nextOrderID: st.nextOrderID,
		nextItemID:  st.nextItemID,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for buyer, entries := range st.carts {
		cp := make(map[int64]int, len(entries))
		for k, v := range entries {
			cp[k] = v
		}
		c.carts[buyer] = cp
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.byRef {
		c.byRef[k] = v
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

func (st *state) cartLines(buyerID string) []models.CartLine {
	lines := []models.CartLine{}
	for productID, qty := range st.carts[buyerID] {
		p, ok := st.products[productID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{
			ProductID:   productID,
			Quantity:    qty,
			Name:        p.Name,
			Description: p.Description,
			ImageURL:    p.ImageURL,
			Price:       p.Price,
			Available:   p.Quantity,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// Store is a serializable in-memory stand-in for *store.Store.
// A transaction works on a copy that replaces the state only on success.
type Store struct {
	mu    sync.Mutex
	state *state

	// HideRefLookups makes the next n GetOrderBySessionRef calls miss,
	// as if the caller read before a concurrent winner committed.
	HideRefLookups int
	TxCount        int
	FailInsert     error
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{state: &state{
		products:  map[int64]models.Product{},
		carts:     map[string]map[int64]int{},
		orders:    map[int64]models.Order{},
		byRef:     map[string]int64{},
		processed: map[string]bool{},
	}}
}

// PutProduct creates or replaces a catalog product
func (m *Store) PutProduct(id int64, name string, price int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[id] = models.Product{ID: id, Name: name, Price: price, Quantity: qty}
}

// Restock sets a product's quantity the way the catalog does, bumping its version
func (m *Store) Restock(id int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.products[id]
	p.Quantity = qty
	p.Version++
	m.state.products[id] = p
}

func (m *Store) SetPrice(id int64, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.products[id]
	p.Price = price
	m.state.products[id] = p
}

func (m *Store) DeleteProduct(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.products, id)
}

// Stock returns the available quantity of a product
func (m *Store) Stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[id].Quantity
}

// Cart returns a copy of the buyer's stored entries, deleted products included
func (m *Store) Cart(buyerID string) map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]int{}
	for k, v := range m.state.carts[buyerID] {
		out[k] = v
	}
	return out
}

func (m *Store) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TxCount++
	work := m.state.clone()
	if err := fn(ctx, &txn{st: work, failInsert: m.FailInsert}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Store) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrOrderNotFound, id)
	}
	return &o, nil
}

func (m *Store) GetOrderBySessionRef(_ context.Context, ref string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HideRefLookups > 0 {
		m.HideRefLookups--
		return nil, nil
	}
	id, ok := m.state.byRef[ref]
	if !ok {
		return nil, nil
	}
	o := m.state.orders[id]
	return &o, nil
}

func (m *Store) GetOrdersByBuyerID(_ context.Context, buyerID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for _, o := range m.state.orders {
		if o.BuyerID == buyerID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (m *Store) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", store.ErrProductNotFound, id)
	}
	return &p, nil
}

func (m *Store) GetProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	products := []models.Product{}
	for _, p := range m.state.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *Store) AddCartItem(_ context.Context, buyerID string, productID int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.carts[buyerID] == nil {
		m.state.carts[buyerID] = map[int64]int{}
	}
	m.state.carts[buyerID][productID] += qty
	return nil
}

func (m *Store) SetCartItemQuantity(_ context.Context, buyerID string, productID int64, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.carts[buyerID][productID]; !ok {
		return false, nil
	}
	m.state.carts[buyerID][productID] = qty
	return true, nil
}

func (m *Store) RemoveCartItem(_ context.Context, buyerID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.carts[buyerID], productID)
	return nil
}

func (m *Store) GetCartLines(_ context.Context, buyerID string) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.cartLines(buyerID), nil
}

func (m *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.processed[eventID], nil
}

func (m *Store) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.processed[eventID] = true
	return nil
}

type txn struct {
	st         *state
	failInsert error
}

func (t *txn) LockCartLines(_ context.Context, buyerID string) ([]models.CartLine, error) {
	return t.st.cartLines(buyerID), nil
}

func (t *txn) TryDecrement(_ context.Context, productID int64, amount int) (*store.Decrement, error) {
	if amount < 1 {
		return nil, fmt.Errorf("invalid decrement amount %d", amount)
	}
	p, ok := t.st.products[productID]
	if !ok || p.Quantity < amount {
		return nil, &store.InsufficientStockError{ProductID: productID, Requested: amount}
	}
	p.Quantity -= amount
	p.Version++
	t.st.products[productID] = p
	return &store.Decrement{ProductID: p.ID, Available: p.Quantity, Version: p.Version, Price: p.Price}, nil
}

func (t *txn) InsertOrder(_ context.Context, order *models.Order) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	if _, ok := t.st.byRef[order.PaymentSessionRef]; ok {
		return store.ErrDuplicateSession
	}
	t.st.nextOrderID++
	order.ID = t.st.nextOrderID
	order.CreatedAt = time.Now()
	for i := range order.Items {
		t.st.nextItemID++
		order.Items[i].ID = t.st.nextItemID
		order.Items[i].OrderID = order.ID
	}
	stored := *order
	stored.Items = append([]models.OrderItem(nil), order.Items...)
	t.st.orders[order.ID] = stored
	t.st.byRef[order.PaymentSessionRef] = order.ID
	return nil
}

func (t *txn) ClearCart(_ context.Context, buyerID string) error {
	delete(t.st.carts, buyerID)
	return nil
}

// Processor records sessions it "Created" and answers Retrievals from them
type Processor struct {
	mu          sync.Mutex
	sessions    map[string]*payment.Session
	Created     []*payment.CreateSessionRequest
	Retrievals  int
	CreateErr   error
	RetrieveErr error
	nextID      int
}

func NewProcessor() *Processor {
	return &Processor{sessions: map[string]*payment.Session{}}
}

func (p *Processor) CreateSession(_ context.Context, req *payment.CreateSessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.nextID++
	id := fmt.Sprintf("cs_test_%d", p.nextID)
	sess := &payment.Session{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentStatus: payment.StatusUnpaid,
		BuyerID:       req.BuyerID,
		Shipping:      req.Shipping,
	}
	p.sessions[id] = sess
	p.Created = append(p.Created, req)
	return sess, nil
}

func (p *Processor) RetrieveSession(_ context.Context, ref string) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Retrievals++
	if p.RetrieveErr != nil {
		return nil, p.RetrieveErr
	}
	sess, ok := p.sessions[ref]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// AddSession registers a session as the processor would hold it
func (p *Processor) AddSession(ref, buyerID string, status payment.PaymentStatus) *payment.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess := &payment.Session{
		ID:            ref,
		PaymentStatus: status,
		BuyerID:       buyerID,
		Shipping:      models.ShippingAddress{FullName: "Test Buyer", City: "Pune"},
	}
	p.sessions[ref] = sess
	cp := *sess
	return &cp
}

func (p *Processor) MarkPaid(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[ref].PaymentStatus = payment.StatusPaid
}

// Redis implements StockMirror and OrderRefCache
type Redis struct {
	mu       sync.Mutex
	stock    map[int64]models.StockLevel
	refs     map[string]int64
	ReadErr  error
	SetCalls int
}

func NewRedis() *Redis {
	return &Redis{stock: map[int64]models.StockLevel{}, refs: map[string]int64{}}
}

func (r *Redis) GetStock(_ context.Context, productID int64) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReadErr != nil {
		return 0, false, r.ReadErr
	}
	level, ok := r.stock[productID]
	return level.Available, ok, nil
}

func (r *Redis) SetStock(_ context.Context, level models.StockLevel) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SetCalls++
	if cur, ok := r.stock[level.ProductID]; ok && cur.Version >= level.Version {
		return false, nil
	}
	r.stock[level.ProductID] = level
	return true, nil
}

func (r *Redis) InitInventory(_ context.Context, level models.StockLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[level.ProductID] = level
	return nil
}

func (r *Redis) CacheOrderRef(_ context.Context, ref string, orderID int64, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref] = orderID
	return nil
}

func (r *Redis) GetCachedOrderRef(_ context.Context, ref string) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ReadErr != nil {
		return 0, false, r.ReadErr
	}
	id, ok := r.refs[ref]
	return id, ok, nil
}

// ForgetOrderRefs empties the order-ref cache
func (r *Redis) ForgetOrderRefs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = map[string]int64{}
}

// Level returns the mirrored stock level of a product
func (r *Redis) Level(productID int64) (models.StockLevel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.stock[productID]
	return level, ok
}

// Publisher collects events instead of sending them
type Publisher struct {
	mu           sync.Mutex
	Materialized []*models.OrderMaterializedEvent
	Retries      []*models.MaterializationRetryEvent
	Err          error
}

func (p *Publisher) PublishOrderMaterialized(_ context.Context, e *models.OrderMaterializedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Materialized = append(p.Materialized, e)
	return nil
}

func (p *Publisher) PublishMaterializationRetry(_ context.Context, e *models.MaterializationRetryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Retries = append(p.Retries, e)
	return nil
}

func (p *Publisher) MaterializedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Materialized)
}

// Verifier accepts payloads signed with the literal header "valid"
type Verifier struct {
	Event *payment.Event
	Err   error
}

func (v *Verifier) VerifyEvent(_ []byte, header string) (*payment.Event, error) {
	if header != "valid" {
		return nil, fmt.Errorf("%w: bad header", payment.ErrInvalidSignature)
	}
	if v.Err != nil {
		return nil, v.Err
	}
	return v.Event, nil
}

