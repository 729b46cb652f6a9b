package order

import "github.com/pkg/errors"

// ErrInvalidTransition is returned for any move the lifecycle does not offer.
var ErrInvalidTransition = errors.New("invalid status transition")

// forward is the only legal forward path; delivered ends it.
var forward = []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered}

var labels = map[Status]string{
	StatusConfirmed:  "New Order",
	StatusProcessing: "Processing",
	StatusShipped:    "Shipped",
	StatusDelivered:  "Delivered",
	StatusCancelled:  "Cancelled",
}

// Known reports whether s is part of the lifecycle vocabulary.
func Known(s Status) bool {
	_, ok := labels[s]
	return ok
}

// ParseStatus validates a wire value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !Known(s) {
		return "", newValidationError("unknown status " + raw)
	}
	return s, nil
}

// Label is the dashboard caption for s.
func Label(s Status) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// NextStatus returns the single next step on the forward path. It reports
// false for terminal states and for values outside the forward path.
func NextStatus(current Status) (Status, bool) {
	for i, s := range forward {
		if s == current && i < len(forward)-1 {
			return forward[i+1], true
		}
	}
	return "", false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanCancel reports whether s may move straight to cancelled.
func CanCancel(s Status) bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusShipped:
		return true
	}
	return false
}

// Actions lists the transitions offered for s: the next step, then cancel.
func Actions(s Status) []Status {
	var actions []Status
	if next, ok := NextStatus(s); ok {
		actions = append(actions, next)
	}
	if CanCancel(s) {
		actions = append(actions, StatusCancelled)
	}
	return actions
}

// ValidateTransition accepts exactly one forward step or a cancellation of a
// non-terminal order.
func ValidateTransition(from, to Status) error {
	if next, ok := NextStatus(from); ok && next == to {
		return nil
	}
	if to == StatusCancelled && CanCancel(from) {
		return nil
	}
	return errors.Wrapf(ErrInvalidTransition, "%s to %s", from, to)
}
