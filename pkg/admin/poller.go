// Package admin keeps the operator's near-real-time view of all orders.
//
// There is no push channel: a Poller re-fetches the full listing on an
// interval and infers "new order" alerts from growth of the total count.
package admin

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pharmacy/pkg/order"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultAlertWindow = 3 * time.Second
)

// Source fetches the full order listing.
type Source interface {
	AdminOrders(ctx context.Context) (order.Listing, error)
}

// EventKind classifies poller events.
type EventKind string

const (
	EventSnapshot     EventKind = "snapshot"
	EventNewOrder     EventKind = "new_order"
	EventAlertCleared EventKind = "alert_cleared"
	EventError        EventKind = "error"
	EventActionFailed EventKind = "action_failed"
)

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Kind    EventKind
	Listing order.Listing
	Stats   order.Stats
	Added   int // orders gained since the previous cycle, for EventNewOrder
	OrderID string
	Err     error
	At      time.Time
}

// Poller runs serialized fetch-compare-update cycles.
type Poller struct {
	source      Source
	interval    time.Duration
	alertWindow time.Duration
	logger      logrus.FieldLogger

	// cycleMu serializes whole poll cycles so a baseline is never evaluated
	// while another cycle is about to overwrite it.
	cycleMu sync.Mutex

	mu         sync.Mutex
	listing    order.Listing
	lastCount  int
	loaded     bool
	alert      bool
	alertTimer *time.Timer
	alertGen   uint64
	handlers   []func(Event)

	refresh chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// Option customizes a Poller.
type Option func(*Poller)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithAlertWindow overrides how long a new-order alert stays raised.
func WithAlertWindow(d time.Duration) Option {
	return func(p *Poller) { p.alertWindow = d }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Poller) { p.logger = l }
}

// NewPoller builds a poller; call Run to start it.
func NewPoller(source Source, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		interval:    DefaultInterval,
		alertWindow: DefaultAlertWindow,
		refresh:     make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	return p
}

// OnEvent registers a handler. Handlers run on the poller's goroutine and
// must not block.
func (p *Poller) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// Run polls immediately, then on every interval tick and every Refresh
// request, until ctx is done or Stop is called. A tick that fell due while a
// cycle was running is discarded once the cycle ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.stopAlert()

	run := func() {
		p.cycle(ctx)
		select {
		case <-ticker.C:
		default:
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case <-ticker.C:
			run()
		case <-p.refresh:
			run()
		}
	}
}

// Stop halts Run and cancels a pending alert timer.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.stopAlert()
}

// Refresh asks the running loop for an extra cycle. Requests made while one
// is already queued coalesce.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Poll runs one cycle synchronously, serialized with the loop's cycles.
func (p *Poller) Poll(ctx context.Context) error {
	return p.cycle(ctx)
}

func (p *Poller) cycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	listing, err := p.source.AdminOrders(ctx)
	now := time.Now()
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WithError(err).Warn("order poll failed")
			p.emit(Event{Kind: EventError, Err: err, At: now})
		}
		return err
	}

	stats := listing.Stats()
	p.mu.Lock()
	previous := p.lastCount
	fired := stats.Count > previous && previous != 0
	p.lastCount = stats.Count
	p.listing = listing
	p.loaded = true
	if fired {
		p.raiseAlertLocked()
	}
	p.mu.Unlock()

	p.emit(Event{Kind: EventSnapshot, Listing: listing, Stats: stats, At: now})
	if fired {
		p.logger.WithFields(logrus.Fields{"previous": previous, "count": stats.Count}).Info("new order received")
		p.emit(Event{Kind: EventNewOrder, Listing: listing, Stats: stats, Added: stats.Count - previous, At: now})
	}
	return nil
}

// raiseAlertLocked sets the alert and (re)arms its auto-clear timer.
func (p *Poller) raiseAlertLocked() {
	p.alert = true
	p.alertGen++
	gen := p.alertGen
	if p.alertTimer != nil {
		p.alertTimer.Stop()
	}
	p.alertTimer = time.AfterFunc(p.alertWindow, func() {
		p.mu.Lock()
		if gen != p.alertGen || !p.alert {
			p.mu.Unlock()
			return
		}
		p.alert = false
		p.mu.Unlock()
		p.emit(Event{Kind: EventAlertCleared, At: time.Now()})
	})
}

func (p *Poller) stopAlert() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alertTimer != nil {
		p.alertTimer.Stop()
	}
	p.alertGen++
	p.alert = false
}

// AlertActive reports whether the new-order alert is currently raised.
func (p *Poller) AlertActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alert
}

// Listing returns the most recent snapshot and whether any fetch succeeded yet.
func (p *Poller) Listing() (order.Listing, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listing, p.loaded
}

// LastCount is the baseline the next cycle compares against.
func (p *Poller) LastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCount
}

func (p *Poller) emit(ev Event) {
	p.mu.Lock()
	handlers := append([]func(Event){}, p.handlers...)
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
