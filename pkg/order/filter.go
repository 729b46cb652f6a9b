package order

import "strings"

// FilterAll disables the status filter.
const FilterAll = "all"

// Filter narrows the admin order list by status and free-text search.
type Filter struct {
	Status string // FilterAll, empty, or a Status value
	Query  string // matched against order id, product name and patient name
}

// Match reports whether o passes the filter.
func (f Filter) Match(o Order) bool {
	if f.Status != "" && f.Status != FilterAll && string(o.Status) != f.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(o.ID), q) ||
		strings.Contains(strings.ToLower(o.ProductName), q) ||
		strings.Contains(strings.ToLower(o.PatientName), q)
}

// Apply returns the matching orders in their original order.
func (f Filter) Apply(orders []Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if f.Match(o) {
			out = append(out, o)
		}
	}
	return out
}
