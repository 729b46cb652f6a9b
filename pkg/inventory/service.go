package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/catalog"
	"pharmacy/pkg/order"
)

// Repository is the backend state the service reads and adjusts.
type Repository interface {
	Products(ctx context.Context) ([]catalog.Product, error)
	SetStock(ctx context.Context, id string, quantity int) (catalog.Product, error)
	AllOrders(ctx context.Context) (order.Listing, error)
}

// command defines a request so the goroutine can serialize stock changes.
type command struct {
	ctx      context.Context
	action   string
	id       string
	quantity int
	reply    chan commandResult
}

// commandResult forwards whatever the action produced back to the caller.
type commandResult struct {
	report  Report
	product catalog.Product
	alerts  []RefillAlert
	err     error
}

// Service owns a goroutine so stock changes and the reports built from them
// are never interleaved.
type Service struct {
	repo     Repository
	logger   logrus.FieldLogger
	now      func() time.Time
	window   int
	timeout  time.Duration
	commands chan command
	quit     chan struct{}
	stop     sync.Once
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now for refill predictions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRefillWindow sets how many days ahead refill alerts look.
func WithRefillWindow(days int) Option {
	return func(s *Service) { s.window = days }
}

// NewService starts the background goroutine immediately so handlers only see
// bounded calls.
func NewService(repo Repository, opts ...Option) *Service {
	svc := &Service{
		repo:     repo,
		now:      time.Now,
		window:   DefaultRefillWindow,
		timeout:  2 * time.Second,
		commands: make(chan command),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = logrus.StandardLogger()
	}
	go svc.loop()
	return svc
}

// loop processes commands sequentially so no mutexes are needed.
func (s *Service) loop() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- s.apply(cmd)
		case <-s.quit:
			return
		}
	}
}

func (s *Service) apply(cmd command) commandResult {
	switch cmd.action {
	case "report":
		products, err := s.repo.Products(cmd.ctx)
		if err != nil {
			return commandResult{err: errors.Wrap(err, "list products")}
		}
		return commandResult{report: Summarize(products)}
	case "setStock":
		if cmd.quantity < 0 {
			return commandResult{err: newValidationError("stock quantity cannot be negative")}
		}
		p, err := s.repo.SetStock(cmd.ctx, cmd.id, cmd.quantity)
		if err != nil {
			return commandResult{err: err}
		}
		if p.StockQuantity < LowStockThreshold {
			s.logger.WithFields(logrus.Fields{"product_id": p.ID, "stock_quantity": p.StockQuantity}).
				Warn("stock still below threshold")
		}
		return commandResult{product: p}
	case "refills":
		listing, err := s.repo.AllOrders(cmd.ctx)
		if err != nil {
			return commandResult{err: errors.Wrap(err, "list orders")}
		}
		alerts := PredictRefills(listing.Orders, s.now(), s.window)
		s.logger.WithField("alerts", len(alerts)).Debug("refill alerts computed")
		return commandResult{alerts: alerts}
	default:
		return commandResult{err: errors.Errorf("unknown inventory action %s", cmd.action)}
	}
}

func (s *Service) do(ctx context.Context, cmd command) (commandResult, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)
	select {
	case <-s.quit:
		return commandResult{}, ErrClosed
	default:
	}
	select {
	case s.commands <- cmd:
	case <-s.quit:
		return commandResult{}, ErrClosed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-time.After(s.timeout):
		return commandResult{}, errors.New("inventory queue is busy")
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

// Report returns the stock table with low and out-of-stock counts.
func (s *Service) Report(ctx context.Context) (Report, error) {
	res, err := s.do(ctx, command{action: "report"})
	return res.report, err
}

// SetStock overwrites the stock level of one product.
func (s *Service) SetStock(ctx context.Context, id string, quantity int) (catalog.Product, error) {
	res, err := s.do(ctx, command{action: "setStock", id: id, quantity: quantity})
	return res.product, err
}

// RefillAlerts predicts which patients run out of a medicine soon.
func (s *Service) RefillAlerts(ctx context.Context) ([]RefillAlert, error) {
	res, err := s.do(ctx, command{action: "refills"})
	return res.alerts, err
}

// Close stops the background goroutine when the application shuts down.
func (s *Service) Close() {
	s.stop.Do(func() { close(s.quit) })
}
