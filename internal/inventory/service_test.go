package inventory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/inventory"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

func init() { logger.Init("inventory-test") }

func newService(stock map[string]int) *inventory.Service {
	return inventory.NewService(inventory.NewMemoryStore(stock))
}

func TestReserveHappyPath(t *testing.T) {
	svc := newService(map[string]int{"A": 10})
	ctx := context.Background()

	reservations, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 3}})
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, inventory.StateReserved, reservations[0].State)

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 7, available)
}

func TestReserveAllOrNothing(t *testing.T) {
	store := inventory.NewMemoryStore(map[string]int{"A": 10, "B": 1})
	svc := inventory.NewService(store)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "order-1", []inventory.Item{
		{SKU: "A", Qty: 5},
		{SKU: "B", Qty: 1000},
	})
	require.True(t, apperr.Is(err, apperr.KindRejection))

	// No partial reservation for A may survive.
	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, available)

	reservations, err := store.ReservationsForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestReserveUnknownSKURejected(t *testing.T) {
	svc := newService(map[string]int{"A": 10})

	_, err := svc.Reserve(context.Background(), "order-1", []inventory.Item{{SKU: "NOPE", Qty: 1}})
	assert.True(t, apperr.Is(err, apperr.KindRejection))
}

func TestReserveValidation(t *testing.T) {
	svc := newService(map[string]int{"A": 10})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "order-1", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 0}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Reserve(ctx, "", []inventory.Item{{SKU: "A", Qty: 1}})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// Validation failures must not consume stock.
	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestReserveIsIdempotentPerOrder(t *testing.T) {
	svc := newService(map[string]int{"A": 10})
	ctx := context.Background()

	first, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
	require.NoError(t, err)

	// A retried reserve (e.g. after a caller-side timeout) must not take
	// stock twice.
	second, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 6, available)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc := newService(map[string]int{"A": 10})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
	require.NoError(t, err)

	released, err := svc.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, available)

	// Second release: no-op success, stock unchanged.
	released, err = svc.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	available, err = svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestReleaseNonexistentOrderIsNoOp(t *testing.T) {
	svc := newService(map[string]int{"A": 10})

	released, err := svc.Release(context.Background(), "ghost-order")
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}

func TestConcurrentReservationsDoNotOversell(t *testing.T) {
	svc := newService(map[string]int{"A": 50})
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
			_, err := svc.Reserve(ctx, "order-"+orderID, []inventory.Item{{SKU: "A", Qty: 1}})
			if err == nil {
				successes <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	granted := len(successes)
	assert.Equal(t, 50, granted, "exactly the available stock may be granted")

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}

func TestStockLevelUnknownSKU(t *testing.T) {
	svc := newService(map[string]int{"A": 1})

	_, err := svc.StockLevel(context.Background(), "B")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestConcurrentSameOrderReservesOnce(t *testing.T) {
	store := inventory.NewMemoryStore(map[string]int{"A": 10})
	svc := inventory.NewService(store)
	ctx := context.Background()

	// A caller that timed out and retried can race its own first attempt.
	// Both requests must settle on one reservation and one stock take.
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservations, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
			assert.NoError(t, err)
			assert.Len(t, reservations, 1)
		}()
	}
	wg.Wait()

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 6, available, "stock may be taken exactly once per order")

	rows, err := store.ReservationsForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestReserveAfterReleaseIsRejected(t *testing.T) {
	svc := newService(map[string]int{"A": 10})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
	require.NoError(t, err)
	_, err = svc.Release(ctx, "order-1")
	require.NoError(t, err)

	// The compensation already ran; a late retry must not re-take stock.
	_, err = svc.Reserve(ctx, "order-1", []inventory.Item{{SKU: "A", Qty: 4}})
	require.True(t, apperr.Is(err, apperr.KindRejection))

	available, err := svc.StockLevel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestConcurrentReservesAcrossSKUs(t *testing.T) {
	stock := make(map[string]int)
	for r := 'a'; r <= 'z'; r++ {
		stock[string(r)] = 5
	}
	svc := inventory.NewService(inventory.NewMemoryStore(stock))
	ctx := context.Background()

	// Orders touching disjoint SKUs proceed independently on the per-SKU
	// cells; every one must succeed.
	var wg sync.WaitGroup
	for r := 'a'; r <= 'z'; r++ {
		sku := string(r)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := svc.Reserve(ctx, "order-"+sku+"-"+string(rune('0'+n)), []inventory.Item{{SKU: sku, Qty: 1}})
				assert.NoError(t, err)
			}(i)
		}
	}
	wg.Wait()

	for r := 'a'; r <= 'z'; r++ {
		available, err := svc.StockLevel(ctx, string(r))
		require.NoError(t, err)
		assert.Equal(t, 0, available)
	}
}
