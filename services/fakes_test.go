package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"checkout-service/apperrors"
	"checkout-service/gateway"
	"checkout-service/models"

	"github.com/shopspring/decimal"
)

type memState struct {
	orders    map[string]*models.Order
	carts     map[int64]*models.Cart
	users     map[int64]*models.User
	callbacks map[string]models.PaymentCallback
	outbox    []models.OrderEvent
}

func (st *memState) clone() *memState {
	c := &memState{
		orders:    make(map[string]*models.Order, len(st.orders)),
		carts:     make(map[int64]*models.Cart, len(st.carts)),
		users:     st.users,
		callbacks: make(map[string]models.PaymentCallback, len(st.callbacks)),
		outbox:    append([]models.OrderEvent(nil), st.outbox...),
	}
	for k, v := range st.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range st.carts {
		cart := *v
		c.carts[k] = &cart
	}
	for k, v := range st.callbacks {
		c.callbacks[k] = v
	}
	return c
}

// memStore is a Store whose transactions work on a copy of the state that
// replaces the committed state only when fn succeeds.
type memStore struct {
	mu     *sync.Mutex
	state  *memState
	faults map[string]error
	inTx   bool
}

func newMemStore() *memStore {
	return &memStore{
		mu:     &sync.Mutex{},
		faults: map[string]error{},
		state: &memState{
			orders:    map[string]*models.Order{},
			carts:     map[int64]*models.Cart{},
			users:     map[int64]*models.User{},
			callbacks: map[string]models.PaymentCallback{},
		},
	}
}

func (s *memStore) view(fn func(st *memState) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

// failOn makes the named repository call ("carts.MarkCheckedOut",
// "callbacks.Create", "outbox.Add") fail with err from now on.
func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *memStore) clearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// WithinTx refuses to begin on a finished context, like BeginTx does.
func (s *memStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memStore{mu: s.mu, state: s.state.clone(), faults: s.faults, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) Orders() OrderRepository       { return memOrders{s} }
func (s *memStore) Carts() CartRepository         { return memCarts{s} }
func (s *memStore) Users() UserRepository         { return memUsers{s} }
func (s *memStore) Callbacks() CallbackRepository { return memCallbacks{s} }
func (s *memStore) Outbox() OutboxRepository      { return memOutbox{s} }

// committed returns a copy of an order as currently committed.
func (s *memStore) committed(id string) *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

func (s *memStore) callbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.callbacks)
}

func (s *memStore) outboxLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.outbox)
}

func (s *memStore) addUser(u *models.User) { s.state.users[u.ID] = u }

func (s *memStore) addCart(c *models.Cart) { s.state.carts[c.ID] = c }

func (s *memStore) cart(id int64) models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state.carts[id]
}

type memOrders struct{ s *memStore }

func (r memOrders) Create(_ context.Context, o *models.Order) error {
	return r.s.view(func(st *memState) error {
		for _, existing := range st.orders {
			if existing.CartID == o.CartID {
				return apperrors.BusinessRule("An order has already been created from this cart")
			}
		}
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r memOrders) Get(_ context.Context, id string) (*models.Order, error) {
	var out *models.Order
	err := r.s.view(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return apperrors.NotFound("Order", "id", id)
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (r memOrders) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return r.Get(ctx, id)
}

func (r memOrders) Update(_ context.Context, o *models.Order) error {
	return r.s.view(func(st *memState) error {
		cur, ok := st.orders[o.ID]
		if !ok {
			return apperrors.NotFound("Order", "id", o.ID)
		}
		if cur.Version != o.Version {
			return apperrors.Conflict("order %s was modified concurrently", o.ID)
		}
		o.Version++
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r memOrders) ExistsByCartID(_ context.Context, cartID int64) (bool, error) {
	var found bool
	err := r.s.view(func(st *memState) error {
		for _, o := range st.orders {
			if o.CartID == cartID {
				found = true
			}
		}
		return nil
	})
	return found, err
}

func (r memOrders) ListByUser(_ context.Context, userID int64, limit, offset int) ([]*models.Order, error) {
	var out []*models.Order
	err := r.s.view(func(st *memState) error {
		for _, o := range st.orders {
			if o.UserID != nil && *o.UserID == userID {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, err
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type memCarts struct{ s *memStore }

func (r memCarts) Get(_ context.Context, id int64) (*models.Cart, error) {
	var out *models.Cart
	err := r.s.view(func(st *memState) error {
		c, ok := st.carts[id]
		if !ok {
			return apperrors.NotFound("Cart", "id", id)
		}
		cp := *c
		out = &cp
		return nil
	})
	return out, err
}

func (r memCarts) MarkCheckedOut(_ context.Context, id int64) error {
	return r.s.view(func(st *memState) error {
		if err := r.s.faults["carts.MarkCheckedOut"]; err != nil {
			return err
		}
		c, ok := st.carts[id]
		if !ok {
			return apperrors.NotFound("Cart", "id", id)
		}
		c.Status = models.CartCheckedOut
		return nil
	})
}

type memUsers struct{ s *memStore }

func (r memUsers) Get(_ context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := r.s.view(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.NotFound("User", "id", id)
		}
		out = u
		return nil
	})
	return out, err
}

type memCallbacks struct{ s *memStore }

func (r memCallbacks) Exists(_ context.Context, ref string) (bool, error) {
	var ok bool
	err := r.s.view(func(st *memState) error {
		_, ok = st.callbacks[ref]
		return nil
	})
	return ok, err
}

func (r memCallbacks) Create(_ context.Context, cb *models.PaymentCallback) error {
	return r.s.view(func(st *memState) error {
		if err := r.s.faults["callbacks.Create"]; err != nil {
			return err
		}
		if _, ok := st.callbacks[cb.Reference]; ok {
			return apperrors.Duplicate("Callback already processed: %s", cb.Reference)
		}
		st.callbacks[cb.Reference] = *cb
		return nil
	})
}

type memOutbox struct{ s *memStore }

func (r memOutbox) Add(_ context.Context, ev models.OrderEvent) error {
	return r.s.view(func(st *memState) error {
		if err := r.s.faults["outbox.Add"]; err != nil {
			return err
		}
		st.outbox = append(st.outbox, ev)
		return nil
	})
}

type fakeGateway struct {
	mu           sync.Mutex
	quote        gateway.ShippingQuoteResult
	payments     []gateway.PaymentResult
	quoteCalls   int
	paymentCalls int
	lastPayment  gateway.PaymentRequest
	// onPayment runs before a result is returned; ctxErr records the
	// payment call's context error observed afterwards.
	onPayment func()
	ctxErr    error
}

func (g *fakeGateway) QuoteShipping(_ context.Context, _ gateway.ShippingQuoteRequest) gateway.ShippingQuoteResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quoteCalls++
	return g.quote
}

// InitiatePayment returns the queued results in order, repeating the last one.
func (g *fakeGateway) InitiatePayment(ctx context.Context, req gateway.PaymentRequest) gateway.PaymentResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentCalls++
	g.lastPayment = req
	if g.onPayment != nil {
		g.onPayment()
	}
	g.ctxErr = ctx.Err()
	if len(g.payments) == 0 {
		return gateway.PaymentResult{Success: false, ErrorMessage: "no result configured"}
	}
	res := g.payments[0]
	if len(g.payments) > 1 {
		g.payments = g.payments[1:]
	}
	return res
}

func paymentOK(ref string) gateway.PaymentResult {
	return gateway.PaymentResult{Success: true, PaymentURL: "https://pay.example.com/" + ref, PaymentReference: ref, Status: "PENDING"}
}

func paymentDown() gateway.PaymentResult {
	return gateway.PaymentResult{Success: false, ErrorMessage: "Payment service temporarily unavailable: circuit breaker is open"}
}

// recordingDispatcher captures events together with the committed order
// status observed at dispatch time.
type recordingDispatcher struct {
	store    *memStore
	mu       sync.Mutex
	events   []models.OrderEvent
	statuses []models.OrderStatus
}

func (d *recordingDispatcher) Dispatch(_ context.Context, evs ...models.OrderEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range evs {
		d.events = append(d.events, ev)
		if o := d.store.committed(ev.OrderID); o != nil {
			d.statuses = append(d.statuses, o.Status)
		}
	}
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
	next int
	err  error
}

func (l *fakeLocker) TryLock(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.next++
	token := fmt.Sprintf("t%d", l.next)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type fakeSnap struct {
	res    gateway.SnapResult
	err    error
	last   gateway.SnapRequest
	onCall func()
}

func (f *fakeSnap) CreateTransaction(_ context.Context, req gateway.SnapRequest) (gateway.SnapResult, error) {
	f.last = req
	if f.onCall != nil {
		f.onCall()
	}
	return f.res, f.err
}

func testSettings() CheckoutSettings {
	return CheckoutSettings{
		DefaultShippingFee: decimal.NewFromInt(15000),
		Currency:           "IDR",
		Courier:            "jne",
		DefaultWeightKg:    1,
		CallbackBaseURL:    "http://localhost:8080",
		ReturnBaseURL:      "http://localhost:3000",
	}
}

func ptr[T any](v T) *T { return &v }
