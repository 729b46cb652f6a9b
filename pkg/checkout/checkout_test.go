package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/pkg/cart"
	"pharmacy/pkg/order"
	"pharmacy/pkg/storage"
)

func filledCart(t *testing.T, n int) *cart.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := cart.Open(ctx, storage.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ids := []string{"MED001", "MED002", "MED003", "MED004"}
	for i := 0; i < n; i++ {
		id := ids[i%len(ids)]
		require.NoError(t, c.AddOrIncrement(ctx, id, "Medicine "+id, decimal.NewFromInt(10), ""))
	}
	return c
}

type blockingGateway struct {
	started chan struct{}
	release chan error
}

func (g *blockingGateway) Charge(ctx context.Context, p Payment) error {
	close(g.started)
	return <-g.release
}

type recordingPlacer struct {
	mu      sync.Mutex
	placed  []order.Placement
	failFor string
}

func (r *recordingPlacer) PlaceOrder(ctx context.Context, p order.Placement) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ProductID == r.failFor {
		return order.Order{}, errors.New("out of stock")
	}
	r.placed = append(r.placed, p)
	return order.Order{ID: "ORD-" + p.ProductID, ProductID: p.ProductID, Quantity: p.Quantity, Status: order.StatusConfirmed}, nil
}

func TestCheckoutClearsCart(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{1, 3, 9} {
		c := filledCart(t, n)
		placer := &recordingPlacer{}
		tr := New(c, SimulatedGateway{}, placer, nil)

		receipt, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
		require.NoError(t, err)
		assert.Equal(t, StateSuccess, tr.State())
		assert.Equal(t, MethodUPI, receipt.Method)
		assert.True(t, receipt.Total.Equal(decimal.NewFromInt(int64(10*n))))

		left, err := c.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, left, "n=%d", n)

		qty := 0
		for _, p := range placer.placed {
			assert.Equal(t, "PAT001", p.PatientID)
			qty += p.Quantity
		}
		assert.Equal(t, n, qty)
		assert.Len(t, receipt.Orders, len(placer.placed))
	}
}

func TestEmptyCartIsRejected(t *testing.T) {
	c := filledCart(t, 0)
	tr := New(c, SimulatedGateway{}, nil, nil)

	_, err := tr.Submit(context.Background(), Request{PatientID: "PAT001"})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, StateIdle, tr.State())
	assert.False(t, tr.Disabled())
}

func TestDuplicateSubmissionWhileProcessing(t *testing.T) {
	ctx := context.Background()
	c := filledCart(t, 2)
	gw := &blockingGateway{started: make(chan struct{}), release: make(chan error)}
	tr := New(c, gw, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := tr.Submit(ctx, Request{PatientID: "PAT001", Method: MethodCard})
		done <- err
	}()
	<-gw.started

	assert.Equal(t, StateProcessing, tr.State())
	assert.True(t, tr.Disabled())
	_, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.ErrorIs(t, tr.Reset(), ErrInProgress)

	gw.release <- nil
	require.NoError(t, <-done)
	assert.Equal(t, StateSuccess, tr.State())

	_, err = tr.Submit(ctx, Request{PatientID: "PAT001"})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestPaymentFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	c := filledCart(t, 2)
	gw := &blockingGateway{started: make(chan struct{}), release: make(chan error, 1)}
	gw.release <- errors.New("card declined")
	tr := New(c, gw, nil, nil)

	_, err := tr.Submit(ctx, Request{PatientID: "PAT001", Method: MethodCard})
	require.Error(t, err)
	assert.Equal(t, StateFailed, tr.State())
	assert.Error(t, tr.Err())
	assert.False(t, tr.Disabled())

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = tr.Submit(ctx, Request{PatientID: "PAT001"})
	assert.ErrorIs(t, err, ErrNotIdle)

	tr.gateway = SimulatedGateway{}
	require.NoError(t, tr.Reset())
	assert.Equal(t, StateIdle, tr.State())
	assert.NoError(t, tr.Err())
	_, err = tr.Submit(ctx, Request{PatientID: "PAT001"})
	assert.NoError(t, err)
}

type recordingGateway struct {
	mu      sync.Mutex
	charges []Payment
}

func (g *recordingGateway) Charge(ctx context.Context, p Payment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, p)
	return nil
}

func TestOrderRegistrationFailure(t *testing.T) {
	ctx := context.Background()
	c := filledCart(t, 2)
	tr := New(c, SimulatedGateway{}, &recordingPlacer{failFor: "MED002"}, nil)

	_, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.Error(t, err)
	assert.Equal(t, StateFailed, tr.State())
	_, ok := tr.Receipt()
	assert.False(t, ok)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRetryAfterPartialRegistrationPlacesEachLineOnce(t *testing.T) {
	ctx := context.Background()
	c := filledCart(t, 2)
	gw := &recordingGateway{}
	placer := &recordingPlacer{failFor: "MED002"}
	tr := New(c, gw, placer, nil)

	_, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.Error(t, err)
	require.Len(t, placer.placed, 1)

	placer.failFor = ""
	require.NoError(t, tr.Reset())
	receipt, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, tr.State())

	counts := map[string]int{}
	for _, p := range placer.placed {
		counts[p.ProductID]++
	}
	assert.Equal(t, map[string]int{"MED001": 1, "MED002": 1}, counts)
	require.Len(t, receipt.Orders, 2)
	assert.Equal(t, "ORD-MED001", receipt.Orders[0].ID)
	assert.Equal(t, "ORD-MED002", receipt.Orders[1].ID)

	require.Len(t, gw.charges, 1, "the accepted charge covers the retry")
	assert.True(t, gw.charges[0].Amount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, gw.charges[0].Reference, receipt.Reference)
}

func TestRetryChargesOnlyForAddedLines(t *testing.T) {
	ctx := context.Background()
	c := filledCart(t, 2)
	gw := &recordingGateway{}
	placer := &recordingPlacer{failFor: "MED002"}
	tr := New(c, gw, placer, nil)

	_, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.Error(t, err)

	require.NoError(t, c.AddOrIncrement(ctx, "MED003", "Medicine MED003", decimal.NewFromInt(15), ""))
	placer.failFor = ""
	require.NoError(t, tr.Reset())
	receipt, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.NoError(t, err)

	require.Len(t, gw.charges, 2)
	assert.True(t, gw.charges[1].Amount.Equal(decimal.NewFromInt(15)))
	assert.True(t, receipt.Total.Equal(decimal.NewFromInt(35)))
	assert.Len(t, placer.placed, 3)
}

type stuckCart struct {
	*cart.Cart
	clears int
}

func (s *stuckCart) Clear(ctx context.Context) error {
	s.clears++
	return errors.New("storage unavailable")
}

func TestUnclearedCartIsReportedOnReceipt(t *testing.T) {
	ctx := context.Background()
	c := &stuckCart{Cart: filledCart(t, 1)}
	tr := New(c, SimulatedGateway{}, &recordingPlacer{}, nil)

	receipt, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, tr.State())
	assert.Error(t, receipt.CartErr)
	assert.Equal(t, clearAttempts, c.clears)

	stored, ok := tr.Receipt()
	require.True(t, ok)
	assert.Error(t, stored.CartErr)
}

func TestUnknownMethod(t *testing.T) {
	tr := New(filledCart(t, 1), SimulatedGateway{}, nil, nil)
	_, err := tr.Submit(context.Background(), Request{Method: "cash"})
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.Equal(t, StateIdle, tr.State())
}

func TestStateChangesAreReported(t *testing.T) {
	tr := New(filledCart(t, 1), SimulatedGateway{Delay: time.Millisecond}, nil, nil)
	var seen []State
	tr.OnChange(func(s State) { seen = append(seen, s) })

	_, err := tr.Submit(context.Background(), Request{PatientID: "PAT001"})
	require.NoError(t, err)
	assert.Equal(t, []State{StateProcessing, StateSuccess}, seen)

	receipt, ok := tr.Receipt()
	require.True(t, ok)
	assert.NotEmpty(t, receipt.Reference)
	assert.Len(t, receipt.Lines, 1)
}

func TestSimulatedGatewayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SimulatedGateway{Delay: time.Hour}.Charge(ctx, Payment{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelledSubmitFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := New(filledCart(t, 1), SimulatedGateway{Delay: time.Hour}, nil, nil)
	tr.OnChange(func(s State) {
		if s == StateProcessing {
			cancel()
		}
	})

	_, err := tr.Submit(ctx, Request{PatientID: "PAT001"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, tr.State())
}
