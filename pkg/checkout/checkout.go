// Package checkout finalizes a cart into submitted orders.
//
// A Transition moves idle -> processing -> success|failed. The trigger is
// disabled while processing, success is the single commit point (the cart is
// cleared exactly once there), and failed returns to idle only through Reset.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/cart"
	"pharmacy/pkg/order"
)

// State is the position of a Transition.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Method is the payment instrument picked on the checkout page.
type Method string

const (
	MethodUPI  Method = "upi"
	MethodCard Method = "card"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInProgress       = errors.New("checkout already in progress")
	ErrAlreadyCompleted = errors.New("checkout already completed")
	ErrNotIdle          = errors.New("checkout failed; reset before retrying")
	ErrUnknownMethod    = errors.New("unknown payment method")
)

// Payment is what the gateway is asked to charge.
type Payment struct {
	Reference string
	Method    Method
	Amount    decimal.Decimal
	PatientID string
}

// Gateway charges a payment.
type Gateway interface {
	Charge(ctx context.Context, p Payment) error
}

// SimulatedGateway always succeeds after Delay.
type SimulatedGateway struct {
	Delay time.Duration
}

// DefaultDelay matches the simulated processing time of the storefront.
const DefaultDelay = 2 * time.Second

func (g SimulatedGateway) Charge(ctx context.Context, p Payment) error {
	timer := time.NewTimer(g.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CartSource is the cart being finalized.
type CartSource interface {
	Lines(ctx context.Context) ([]cart.Line, error)
	Clear(ctx context.Context) error
}

// OrderPlacer registers a paid line with the backend order store.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, p order.Placement) (order.Order, error)
}

// Request starts a checkout.
type Request struct {
	PatientID string
	Method    Method
}

// Receipt describes a successful checkout. CartErr is set when the paid
// lines could not be removed from the cart; the caller must clear it before
// the next checkout.
type Receipt struct {
	Reference   string
	Method      Method
	Total       decimal.Decimal
	Lines       []cart.Line
	Orders      []order.Order
	CompletedAt time.Time
	CartErr     error
}

// placedLine is a line registered by an earlier attempt of the same Transition.
type placedLine struct {
	order    order.Order
	subtotal decimal.Decimal
}

// ledger survives Reset so a retry neither charges nor registers twice.
type ledger struct {
	reference string
	charged   decimal.Decimal
	placed    map[string]placedLine
}

// consumed is the part of the charge already covered by registered orders.
func (l *ledger) consumed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.placed {
		total = total.Add(p.subtotal)
	}
	return total
}

// Transition runs one checkout for one cart.
type Transition struct {
	cart    CartSource
	gateway Gateway
	placer  OrderPlacer
	logger  logrus.FieldLogger

	mu       sync.Mutex
	state    State
	lastErr  error
	receipt  *Receipt
	onChange []func(State)
	ledger   ledger
}

// New builds a Transition. placer may be nil when orders are registered elsewhere.
func New(c CartSource, gateway Gateway, placer OrderPlacer, logger logrus.FieldLogger) *Transition {
	if gateway == nil {
		gateway = SimulatedGateway{Delay: DefaultDelay}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transition{
		cart:    c,
		gateway: gateway,
		placer:  placer,
		logger:  logger,
		state:   StateIdle,
		ledger:  ledger{placed: make(map[string]placedLine)},
	}
}

// OnChange registers a callback invoked after every state change.
func (t *Transition) OnChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// State returns the current state.
func (t *Transition) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Disabled reports whether the checkout trigger must be disabled.
func (t *Transition) Disabled() bool {
	s := t.State()
	return s == StateProcessing || s == StateSuccess
}

// Err returns the failure that moved the transition to failed.
func (t *Transition) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Receipt returns the receipt after success.
func (t *Transition) Receipt() (Receipt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receipt == nil {
		return Receipt{}, false
	}
	return *t.receipt, true
}

// Reset returns a finished transition to idle. It fails while processing.
// Charges and order registrations made by failed attempts are kept, so the
// next Submit only pays for and registers what is still outstanding.
func (t *Transition) Reset() error {
	t.mu.Lock()
	if t.state == StateProcessing {
		t.mu.Unlock()
		return ErrInProgress
	}
	t.state = StateIdle
	t.lastErr = nil
	t.receipt = nil
	t.mu.Unlock()
	t.emit(StateIdle)
	return nil
}

// Submit runs payment and order registration and blocks until the
// transition leaves processing. Cancelling ctx aborts the attempt and moves
// the transition to failed; a retry after Reset resumes from what the failed
// attempt already charged and registered.
func (t *Transition) Submit(ctx context.Context, req Request) (Receipt, error) {
	if req.Method == "" {
		req.Method = MethodUPI
	}
	if req.Method != MethodUPI && req.Method != MethodCard {
		return Receipt{}, errors.Wrap(ErrUnknownMethod, string(req.Method))
	}

	if err := t.begin(); err != nil {
		return Receipt{}, err
	}

	lines, err := t.cart.Lines(ctx)
	if err != nil {
		return Receipt{}, t.fail(errors.Wrap(err, "read cart"))
	}
	if len(lines) == 0 {
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		t.emit(StateIdle)
		return Receipt{}, ErrEmptyCart
	}

	// Only processing goroutines touch the ledger, and begin admits one.
	led := &t.ledger
	pending := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		if _, done := led.placed[l.ProductID]; !done {
			pending = append(pending, l)
		}
	}

	if led.reference == "" {
		led.reference = uuid.NewString()
	}
	due := cart.Total(pending).Sub(led.charged.Sub(led.consumed()))
	log := t.logger.WithFields(logrus.Fields{"reference": led.reference, "method": req.Method, "due": due.StringFixed(2)})

	if due.IsPositive() {
		payment := Payment{Reference: led.reference, Method: req.Method, Amount: due, PatientID: req.PatientID}
		if err := t.gateway.Charge(ctx, payment); err != nil {
			log.WithError(err).Warn("payment failed")
			return Receipt{}, t.fail(errors.Wrap(err, "payment"))
		}
		led.charged = led.charged.Add(due)
	}

	if t.placer != nil {
		for _, l := range pending {
			o, err := t.placer.PlaceOrder(ctx, order.Placement{PatientID: req.PatientID, ProductID: l.ProductID, Quantity: l.Quantity})
			if err != nil {
				log.WithError(err).WithField("product_id", l.ProductID).Warn("order registration failed")
				return Receipt{}, t.fail(errors.Wrapf(err, "place order for %s", l.ProductID))
			}
			led.placed[l.ProductID] = placedLine{order: o, subtotal: l.Subtotal()}
		}
	}

	var placed []order.Order
	if t.placer != nil {
		for _, l := range lines {
			placed = append(placed, led.placed[l.ProductID].order)
		}
	}
	receipt := Receipt{
		Reference:   led.reference,
		Method:      req.Method,
		Total:       cart.Total(lines),
		Lines:       lines,
		Orders:      placed,
		CompletedAt: time.Now().UTC(),
	}
	receipt = t.commit(ctx, receipt)
	log.WithField("orders", len(placed)).Info("checkout completed")
	return receipt, nil
}

// begin moves idle to processing atomically.
func (t *Transition) begin() error {
	t.mu.Lock()
	switch t.state {
	case StateProcessing:
		t.mu.Unlock()
		return ErrInProgress
	case StateSuccess:
		t.mu.Unlock()
		return ErrAlreadyCompleted
	case StateFailed:
		t.mu.Unlock()
		return ErrNotIdle
	}
	t.state = StateProcessing
	t.mu.Unlock()
	t.emit(StateProcessing)
	return nil
}

func (t *Transition) fail(err error) error {
	t.mu.Lock()
	t.state = StateFailed
	t.lastErr = err
	t.mu.Unlock()
	t.emit(StateFailed)
	return err
}

// clearAttempts bounds how often commit retries clearing the cart.
const clearAttempts = 3

// commit is the only place the cart is cleared. A cart that cannot be
// cleared is reported on the receipt; the payment and orders stand.
func (t *Transition) commit(ctx context.Context, r Receipt) Receipt {
	var err error
	for i := 0; i < clearAttempts; i++ {
		if err = t.cart.Clear(ctx); err == nil {
			break
		}
	}
	if err != nil {
		t.logger.WithError(err).Error("cart could not be cleared after checkout")
		r.CartErr = errors.Wrap(err, "clear cart")
	}
	t.mu.Lock()
	t.state = StateSuccess
	t.receipt = &r
	t.mu.Unlock()
	t.emit(StateSuccess)
	return r
}

func (t *Transition) emit(s State) {
	t.mu.Lock()
	handlers := append([]func(State){}, t.onChange...)
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}
