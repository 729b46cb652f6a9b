package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextStatusIsSingleStep(t *testing.T) {
	cases := []struct {
		from Status
		next Status
		ok   bool
	}{
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, "", false},
		{StatusCancelled, "", false},
		{Status("refunded"), "", false},
		{Status(""), "", false},
	}
	for _, tc := range cases {
		next, ok := NextStatus(tc.from)
		assert.Equal(t, tc.ok, ok, "from %q", tc.from)
		assert.Equal(t, tc.next, next, "from %q", tc.from)
	}
}

func TestTerminalStatesOfferNothing(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled} {
		assert.True(t, IsTerminal(s))
		assert.False(t, CanCancel(s))
		assert.Empty(t, Actions(s))
		for _, to := range []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled} {
			assert.ErrorIs(t, ValidateTransition(s, to), ErrInvalidTransition)
		}
	}
}

func TestActions(t *testing.T) {
	assert.Equal(t, []Status{StatusProcessing, StatusCancelled}, Actions(StatusConfirmed))
	assert.Equal(t, []Status{StatusShipped, StatusCancelled}, Actions(StatusProcessing))
	assert.Equal(t, []Status{StatusDelivered, StatusCancelled}, Actions(StatusShipped))
	assert.Empty(t, Actions(Status("unknown")))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusConfirmed, StatusProcessing))
	assert.NoError(t, ValidateTransition(StatusConfirmed, StatusCancelled))
	assert.NoError(t, ValidateTransition(StatusShipped, StatusCancelled))

	assert.ErrorIs(t, ValidateTransition(StatusConfirmed, StatusShipped), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusConfirmed, StatusDelivered), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusProcessing, StatusConfirmed), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusConfirmed, StatusConfirmed), ErrInvalidTransition)
}

func TestCancelFromConfirmedIsTerminal(t *testing.T) {
	o := Order{ID: "ORD-1", Status: StatusConfirmed}
	assert.NoError(t, ValidateTransition(o.Status, StatusCancelled))
	o.Status = StatusCancelled
	_, ok := NextStatus(o.Status)
	assert.False(t, ok)
	assert.Empty(t, Actions(o.Status))
}

func TestParseStatusAndLabel(t *testing.T) {
	s, err := ParseStatus("shipped")
	assert.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("lost")
	assert.True(t, IsValidation(err))

	assert.Equal(t, "New Order", Label(StatusConfirmed))
	assert.Equal(t, "mystery", Label(Status("mystery")))
}
