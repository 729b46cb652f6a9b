package cart

import "github.com/shopspring/decimal"

// Line is one product in the cart. A cart holds at most one line per ProductID.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"product_name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Category  string          `json:"category,omitempty"`
}

// Subtotal is the unit price times the quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums every line's subtotal.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Count sums the quantities of every line.
func Count(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
