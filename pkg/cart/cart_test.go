package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy/pkg/storage"
)

func openCart(t *testing.T, store storage.Store, opts ...Option) *Cart {
	t.Helper()
	c, err := Open(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestAddingSameProductMerges(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{1, 2, 5, 17} {
		c := openCart(t, storage.NewMemoryStore())
		for i := 0; i < n; i++ {
			require.NoError(t, c.AddOrIncrement(ctx, "MED001", "Paracetamol 500mg", price("10"), "Pain Relief"))
		}
		lines, err := c.Lines(ctx)
		require.NoError(t, err)
		require.Len(t, lines, 1, "n=%d", n)
		assert.Equal(t, n, lines[0].Quantity)
	}
}

func TestTotalScenario(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, storage.NewMemoryStore())

	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), "Antibiotic"))
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), "Antibiotic"))
	require.NoError(t, c.AddOrIncrement(ctx, "B", "Cetirizine", price("5"), "Allergy"))

	total, err := c.Total(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(price("25")), "got %s", total)

	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), "Antibiotic"))
	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, lines[0].Quantity)
	total, err = c.Total(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(price("35")), "got %s", total)
}

func TestTotalHasNoFloatDrift(t *testing.T) {
	lines := []Line{
		{ProductID: "a", UnitPrice: price("0.1"), Quantity: 3},
		{ProductID: "b", UnitPrice: price("0.2"), Quantity: 1},
	}
	assert.Equal(t, "0.5", Total(lines).String())
	assert.Equal(t, 4, Count(lines))
	assert.True(t, Total(nil).IsZero())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, storage.NewMemoryStore())

	assert.NoError(t, c.Remove(ctx, "missing"))

	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.AddOrIncrement(ctx, "B", "Cetirizine", price("5"), ""))
	require.NoError(t, c.Remove(ctx, "A"))

	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "B", lines[0].ProductID)

	assert.NoError(t, c.Remove(ctx, "A"))
}

func TestCartSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := openCart(t, store)
	require.NoError(t, first.AddOrIncrement(ctx, "A", "Amoxicillin", price("10.50"), "Antibiotic"))
	require.NoError(t, first.AddOrIncrement(ctx, "B", "Cetirizine", price("5"), "Allergy"))
	require.NoError(t, first.AddOrIncrement(ctx, "A", "Amoxicillin", price("10.50"), "Antibiotic"))
	first.Close()

	second := openCart(t, store)
	lines, err := second.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "A", lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "Antibiotic", lines[0].Category)
	total, err := second.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, "26", total.String())
}

func TestOpenReadsLegacyNumericPrices(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	raw := `[{"product_id":"A","product_name":"Amoxicillin","price":12.5,"quantity":2},
		{"product_id":"A","product_name":"Amoxicillin","price":12.5,"quantity":1},
		{"product_id":"","product_name":"ghost","price":1,"quantity":1},
		{"product_id":"Z","product_name":"zero","price":1,"quantity":0}]`
	require.NoError(t, store.Set(ctx, storage.CartKey, []byte(raw)))

	c := openCart(t, store)
	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, "37.5", Total(lines).String())
}

func TestOpenRejectsCorruptCart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(ctx, storage.CartKey, []byte("{oops")))
	_, err := Open(ctx, store)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := openCart(t, store)
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.Clear(ctx))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	raw, err := store.Get(ctx, storage.CartKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, storage.NewMemoryStore())

	err := c.AddOrIncrement(ctx, "  ", "blank", price("1"), "")
	assert.True(t, IsValidation(err))
	err = c.AddOrIncrement(ctx, "A", "negative", price("-1"), "")
	assert.True(t, IsValidation(err))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotifierAcknowledgesAdditions(t *testing.T) {
	ctx := context.Background()
	var acked []Line
	c := openCart(t, storage.NewMemoryStore(), WithNotifier(func(l Line) { acked = append(acked, l) }))

	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))

	require.Len(t, acked, 2)
	assert.Equal(t, 1, acked[0].Quantity)
	assert.Equal(t, 2, acked[1].Quantity)
}

type failingStore struct {
	storage.Store
}

func (failingStore) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}

func TestFailedPersistLeavesCartUnchanged(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, failingStore{Store: storage.NewMemoryStore()})

	assert.Error(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAdditionsAreSerialized(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, storage.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("2"), ""))
		}()
	}
	wg.Wait()

	lines, err := c.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 50, lines[0].Quantity)
}

func TestClosedCart(t *testing.T) {
	c, err := Open(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)
	c.Close()
	c.Close()
	_, err = c.Lines(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCountSumsQuantities(t *testing.T) {
	ctx := context.Background()
	c := openCart(t, storage.NewMemoryStore())
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.AddOrIncrement(ctx, "A", "Amoxicillin", price("10"), ""))
	require.NoError(t, c.AddOrIncrement(ctx, "B", "Cetirizine", price("30"), ""))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	distinct, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, distinct)
}
