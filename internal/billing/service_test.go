package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/billing"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

func init() { logger.Init("billing-test") }

func TestChargeApproved(t *testing.T) {
	svc := billing.NewService(billing.NewMemoryStore(), nil)

	record, err := svc.Charge(context.Background(), "order-1", 1000, "key-1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusApproved, record.Status)
	assert.NotEmpty(t, record.ReferenceID)
}

func TestChargeDeclinedOverLimit(t *testing.T) {
	svc := billing.NewService(billing.NewMemoryStore(), billing.LimitApprover(500))

	record, err := svc.Charge(context.Background(), "order-1", 1000, "key-1")
	require.NoError(t, err, "a decline is a recorded outcome, not an error")
	assert.Equal(t, billing.StatusDeclined, record.Status)
	assert.NotEmpty(t, record.Reason)
}

func TestChargeIdempotentReplay(t *testing.T) {
	svc := billing.NewService(billing.NewMemoryStore(), nil)
	ctx := context.Background()

	first, err := svc.Charge(ctx, "order-1", 1000, "key-1")
	require.NoError(t, err)

	second, err := svc.Charge(ctx, "order-1", 1000, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ReferenceID, second.ReferenceID, "same key must return the same record")

	charges, err := svc.ChargesForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, charges, 1, "no duplicate charge may be written")
}

func TestChargeDifferentKeysAreSeparateRecords(t *testing.T) {
	svc := billing.NewService(billing.NewMemoryStore(), nil)
	ctx := context.Background()

	first, err := svc.Charge(ctx, "order-1", 1000, "key-1")
	require.NoError(t, err)
	second, err := svc.Charge(ctx, "order-1", 1000, "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ReferenceID, second.ReferenceID)

	charges, err := svc.ChargesForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, charges, 2, "the ledger is append-only; corrections are new records")
}

func TestChargeValidation(t *testing.T) {
	store := billing.NewMemoryStore()
	svc := billing.NewService(store, nil)
	ctx := context.Background()

	_, err := svc.Charge(ctx, "order-1", 0, "key-1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Charge(ctx, "order-1", -5, "key-1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Charge(ctx, "", 100, "key-1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	charges, err := svc.ChargesForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, charges, "validation failures must not create records")
}

func TestConcurrentChargesSameKeySingleRecord(t *testing.T) {
	svc := billing.NewService(billing.NewMemoryStore(), nil)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	refs := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := svc.Charge(ctx, "order-1", 1000, "key-1")
			if err == nil {
				refs <- record.ReferenceID
			}
		}()
	}
	wg.Wait()
	close(refs)

	var first string
	for ref := range refs {
		if first == "" {
			first = ref
			continue
		}
		assert.Equal(t, first, ref, "every concurrent caller must observe the same outcome")
	}

	charges, err := svc.ChargesForOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, charges, 1)
}
