// Package order holds the order lifecycle shared by the storefront and the
// admin console.
package order

import "github.com/shopspring/decimal"

// Status is the lifecycle position of an order.
type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Order is a backend-owned purchase record. Clients hold read-only copies.
type Order struct {
	ID              string          `json:"order_id"`
	PatientID       string          `json:"patient_id"`
	PatientName     string          `json:"patient_name"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	PurchaseDate    string          `json:"purchase_date"`
	DosageFrequency string          `json:"dosage_frequency"`
	Status          Status          `json:"status"`
}

// Listing is the admin view of every order plus the backend's aggregate counts.
type Listing struct {
	Orders    []Order `json:"orders"`
	Count     int     `json:"count"`
	Pending   int     `json:"pending"`
	Delivered int     `json:"delivered"`
}

// Stats aggregates a set of orders the way the admin dashboard shows them.
type Stats struct {
	Count     int
	Pending   int
	Delivered int
}

// Summarize counts orders; pending means confirmed or processing.
func Summarize(orders []Order) Stats {
	stats := Stats{Count: len(orders)}
	for _, o := range orders {
		switch o.Status {
		case StatusConfirmed, StatusProcessing:
			stats.Pending++
		case StatusDelivered:
			stats.Delivered++
		}
	}
	return stats
}

// NewListing builds a listing with counts derived from orders.
func NewListing(orders []Order) Listing {
	stats := Summarize(orders)
	return Listing{Orders: orders, Count: stats.Count, Pending: stats.Pending, Delivered: stats.Delivered}
}

// Stats returns the listing's counts. Listings that carry orders but no counts
// are summarized locally.
func (l Listing) Stats() Stats {
	if l.Count == 0 && len(l.Orders) > 0 {
		return Summarize(l.Orders)
	}
	return Stats{Count: l.Count, Pending: l.Pending, Delivered: l.Delivered}
}

// Find returns the order with the given id.
func (l Listing) Find(id string) (Order, bool) {
	for _, o := range l.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}
