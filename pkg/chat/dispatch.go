package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Actions are the affordances a card can trigger. Nil hooks are skipped.
type Actions struct {
	Confirm func(ctx context.Context, c OrderConfirmation) error
	Alert   func(c SafetyAlert)
	Status  func(c OrderStatus)
}

// Dispatch routes card to the matching action. Unknown and nil cards do nothing.
func Dispatch(ctx context.Context, card Card, a Actions) error {
	switch c := card.(type) {
	case OrderConfirmation:
		if a.Confirm != nil {
			return a.Confirm(ctx, c)
		}
	case SafetyAlert:
		if a.Alert != nil {
			a.Alert(c)
		}
	case OrderStatus:
		if a.Status != nil {
			a.Status(c)
		}
	}
	return nil
}

// CartAdder is the part of the cart a confirmation needs.
type CartAdder interface {
	AddOrIncrement(ctx context.Context, productID, name string, unitPrice decimal.Decimal, category string) error
}

// AddToCart puts every item of the confirmation into c, one unit at a time so
// duplicates merge into existing lines.
func AddToCart(ctx context.Context, c CartAdder, oc OrderConfirmation) error {
	lines := oc.Lines()
	if len(lines) == 0 {
		return errors.New("order confirmation has no items")
	}
	for _, item := range lines {
		qty := item.Qty
		if qty < 1 {
			qty = 1
		}
		for i := 0; i < qty; i++ {
			if err := c.AddOrIncrement(ctx, item.ProductID, item.ProductName, item.Price, ""); err != nil {
				return errors.Wrapf(err, "add %s to cart", item.ProductID)
			}
		}
	}
	return nil
}
