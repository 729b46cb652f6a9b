package admin

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/order"
)

// ErrOrderNotFound is returned when an action targets an order absent from
// the cached snapshot.
var ErrOrderNotFound = errors.New("order not found in current snapshot")

// Updater issues remote status changes.
type Updater interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status order.Status) error
}

// Row is one order as offered to the operator.
type Row struct {
	Order   order.Order
	Label   string
	Actions []order.Status
}

// Console applies operator actions on top of a Poller's snapshot. Status
// changes are never applied to the cached copy; the next poll reflects them.
type Console struct {
	poller  *Poller
	updater Updater
	logger  logrus.FieldLogger
}

// NewConsole wires a console to poller and updater.
func NewConsole(poller *Poller, updater Updater, logger logrus.FieldLogger) *Console {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Console{poller: poller, updater: updater, logger: logger}
}

// Advance moves the order one step along the forward path.
func (c *Console) Advance(ctx context.Context, orderID string) (order.Status, error) {
	current, err := c.lookup(orderID)
	if err != nil {
		return "", err
	}
	next, ok := order.NextStatus(current.Status)
	if !ok {
		return "", errors.Wrapf(order.ErrInvalidTransition, "order %s is %s", orderID, current.Status)
	}
	return next, c.apply(ctx, current, next)
}

// Cancel cancels a non-terminal order.
func (c *Console) Cancel(ctx context.Context, orderID string) error {
	current, err := c.lookup(orderID)
	if err != nil {
		return err
	}
	if !order.CanCancel(current.Status) {
		return errors.Wrapf(order.ErrInvalidTransition, "order %s is %s", orderID, current.Status)
	}
	return c.apply(ctx, current, order.StatusCancelled)
}

func (c *Console) lookup(orderID string) (order.Order, error) {
	listing, _ := c.poller.Listing()
	o, ok := listing.Find(orderID)
	if !ok {
		return order.Order{}, errors.Wrap(ErrOrderNotFound, orderID)
	}
	return o, nil
}

func (c *Console) apply(ctx context.Context, o order.Order, to order.Status) error {
	if err := order.ValidateTransition(o.Status, to); err != nil {
		return err
	}
	err := c.updater.UpdateOrderStatus(ctx, o.ID, to)
	// The next poll reconciles the cached copy in both outcomes.
	c.poller.Refresh()
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "status": to}).
			Warn("status update failed")
		c.poller.emit(Event{Kind: EventActionFailed, OrderID: o.ID, Err: err, At: time.Now()})
		return errors.Wrapf(err, "update order %s", o.ID)
	}
	c.logger.WithFields(logrus.Fields{"order_id": o.ID, "from": o.Status, "to": to}).Info("order status updated")
	return nil
}

// View returns the cached orders matching filter, each with its affordances.
func (c *Console) View(filter order.Filter) []Row {
	listing, _ := c.poller.Listing()
	matched := filter.Apply(listing.Orders)
	rows := make([]Row, 0, len(matched))
	for _, o := range matched {
		rows = append(rows, Row{Order: o, Label: order.Label(o.Status), Actions: order.Actions(o.Status)})
	}
	return rows
}

// Stats summarizes the cached snapshot.
func (c *Console) Stats() order.Stats {
	listing, _ := c.poller.Listing()
	return listing.Stats()
}
