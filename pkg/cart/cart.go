// Package cart keeps the device-local shopping cart. All mutations run on a
// single goroutine and are persisted before they become visible.
package cart

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/storage"
)

// Notifier receives the user-visible acknowledgement after an addition.
type Notifier func(line Line)

// command envelopes the work the cart goroutine must perform.
type command struct {
	action string
	line   Line
	ctx    context.Context
	reply  chan result
}

// result carries the lines after the command ran, or an error.
type result struct {
	lines []Line
	line  Line
	err   error
}

// Cart owns the mapping from product identity to line item.
type Cart struct {
	store    storage.Store
	key      string
	notify   Notifier
	logger   logrus.FieldLogger
	timeout  time.Duration
	commands chan command
	quit     chan struct{}
	lines    []Line
	stop     sync.Once
}

// Option customizes a Cart.
type Option func(*Cart)

// WithNotifier sets the acknowledgement hook called after each addition.
func WithNotifier(n Notifier) Option {
	return func(c *Cart) { c.notify = n }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cart) { c.logger = l }
}

// WithKey stores the cart under a key other than storage.CartKey.
func WithKey(key string) Option {
	return func(c *Cart) { c.key = key }
}

// Open reconstructs the cart persisted in store and starts the service goroutine.
// A missing entry yields an empty cart; an unreadable one is an error.
func Open(ctx context.Context, store storage.Store, opts ...Option) (*Cart, error) {
	c := &Cart{
		store:    store,
		key:      storage.CartKey,
		timeout:  2 * time.Second,
		commands: make(chan command),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.notify == nil {
		c.notify = func(l Line) {
			c.logger.WithFields(logrus.Fields{"product_id": l.ProductID, "quantity": l.Quantity}).
				Infof("%s added to cart", l.Name)
		}
	}

	var lines []Line
	err := storage.GetJSON(ctx, store, c.key, &lines)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "load cart")
	}
	c.lines = sanitize(lines)
	go c.loop()
	return c, nil
}

// sanitize drops persisted lines that break the cart invariants and merges duplicates.
func sanitize(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity < 1 {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// loop processes commands sequentially so no mutexes are needed.
func (c *Cart) loop() {
	for {
		select {
		case cmd := <-c.commands:
			cmd.reply <- c.apply(cmd)
		case <-c.quit:
			return
		}
	}
}

func (c *Cart) apply(cmd command) result {
	switch cmd.action {
	case "add":
		next := cloneLines(c.lines)
		merged := false
		var line Line
		for i := range next {
			if next[i].ProductID == cmd.line.ProductID {
				next[i].Quantity++
				line = next[i]
				merged = true
				break
			}
		}
		if !merged {
			line = cmd.line
			line.Quantity = 1
			next = append(next, line)
		}
		if err := c.persist(cmd.ctx, next); err != nil {
			return result{err: err}
		}
		c.lines = next
		return result{lines: cloneLines(next), line: line}
	case "remove":
		next := make([]Line, 0, len(c.lines))
		for _, l := range c.lines {
			if l.ProductID != cmd.line.ProductID {
				next = append(next, l)
			}
		}
		if len(next) == len(c.lines) {
			return result{lines: cloneLines(c.lines)}
		}
		if err := c.persist(cmd.ctx, next); err != nil {
			return result{err: err}
		}
		c.lines = next
		return result{lines: cloneLines(next)}
	case "clear":
		if err := c.persist(cmd.ctx, []Line{}); err != nil {
			return result{err: err}
		}
		c.lines = nil
		return result{}
	case "list":
		return result{lines: cloneLines(c.lines)}
	default:
		return result{err: errors.Errorf("unknown cart action %s", cmd.action)}
	}
}

func (c *Cart) persist(ctx context.Context, lines []Line) error {
	if err := storage.SetJSON(ctx, c.store, c.key, lines); err != nil {
		return errors.Wrap(err, "persist cart")
	}
	return nil
}

// do hands cmd to the goroutine and waits for the reply.
func (c *Cart) do(ctx context.Context, cmd command) (result, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)
	select {
	case <-c.quit:
		return result{}, ErrClosed
	default:
	}

	select {
	case c.commands <- cmd:
	case <-c.quit:
		return result{}, ErrClosed
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-time.After(c.timeout):
		return result{}, errors.New("cart queue is busy")
	}

	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// AddOrIncrement bumps the quantity of an existing line or appends a new line
// with quantity 1, then persists and acknowledges the addition.
func (c *Cart) AddOrIncrement(ctx context.Context, productID, name string, unitPrice decimal.Decimal, category string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return newValidationError("product id is required")
	}
	if unitPrice.IsNegative() {
		return newValidationError("unit price must not be negative")
	}
	res, err := c.do(ctx, command{action: "add", line: Line{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Category:  category,
	}})
	if err != nil {
		c.logger.WithError(err).WithField("product_id", productID).Warn("cart addition failed")
		return err
	}
	c.notify(res.line)
	return nil
}

// Remove deletes the line for productID. Removing an absent product is a no-op.
func (c *Cart) Remove(ctx context.Context, productID string) error {
	_, err := c.do(ctx, command{action: "remove", line: Line{ProductID: strings.TrimSpace(productID)}})
	return err
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	_, err := c.do(ctx, command{action: "clear"})
	if err == nil {
		c.logger.Debug("cart cleared")
	}
	return err
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines(ctx context.Context) ([]Line, error) {
	res, err := c.do(ctx, command{action: "list"})
	return res.lines, err
}

// Total returns the sum of unit price times quantity over all lines.
func (c *Cart) Total(ctx context.Context) (decimal.Decimal, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return Total(lines), nil
}

// Len returns the number of distinct products.
func (c *Cart) Len(ctx context.Context) (int, error) {
	lines, err := c.Lines(ctx)
	return len(lines), err
}

// Count returns the sum of quantities over all lines.
func (c *Cart) Count(ctx context.Context) (int, error) {
	lines, err := c.Lines(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n, nil
}

// Close stops the goroutine.
func (c *Cart) Close() {
	c.stop.Do(func() { close(c.quit) })
}

func cloneLines(src []Line) []Line {
	out := make([]Line, len(src))
	copy(out, src)
	return out
}
