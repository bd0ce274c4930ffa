package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

func init() { logger.Init("registry-test") }

func TestStaticResolve(t *testing.T) {
	s := NewStatic(map[string]string{
		constants.OrderService: "http://orders:8081",
	})

	url, err := s.Resolve(context.Background(), constants.OrderService)
	require.NoError(t, err)
	assert.Equal(t, "http://orders:8081", url)
}

func TestStaticResolveUnknownService(t *testing.T) {
	s := NewStatic(nil)

	_, err := s.Resolve(context.Background(), "no-such-service")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStaticResolveDownService(t *testing.T) {
	s := NewStatic(map[string]string{constants.BillingService: "http://billing:8082"})
	s.setHealth(constants.BillingService, HealthDown)

	_, err := s.Resolve(context.Background(), constants.BillingService)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))

	// DOWN -> UP on a successful probe restores routing.
	s.setHealth(constants.BillingService, HealthUp)
	_, err = s.Resolve(context.Background(), constants.BillingService)
	assert.NoError(t, err)
}

func TestStaticConcurrentReadersSingleWriter(t *testing.T) {
	s := NewStatic(map[string]string{constants.InventoryService: "http://inventory:8083"})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = s.Resolve(context.Background(), constants.InventoryService)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		s.setHealth(constants.InventoryService, HealthDown)
		s.setHealth(constants.InventoryService, HealthUp)
	}
	close(stop)
	wg.Wait()
}

func TestHealthCheckerTransitions(t *testing.T) {
	healthy := true
	var mu sync.Mutex
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path != constants.HealthzPath || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	s := NewStatic(map[string]string{constants.OrderService: backend.URL})
	hc := NewHealthChecker(s, 0, 2)
	ctx := context.Background()

	// UNKNOWN -> UP on the first success.
	hc.CheckNow(ctx)
	assert.Equal(t, HealthUp, s.Entries()[0].Health)

	// One failure is not enough to go DOWN.
	mu.Lock()
	healthy = false
	mu.Unlock()
	hc.CheckNow(ctx)
	assert.Equal(t, HealthUp, s.Entries()[0].Health)

	// The threshold-th consecutive failure flips the entry.
	hc.CheckNow(ctx)
	assert.Equal(t, HealthDown, s.Entries()[0].Health)

	// A single success brings it back.
	mu.Lock()
	healthy = true
	mu.Unlock()
	hc.CheckNow(ctx)
	assert.Equal(t, HealthUp, s.Entries()[0].Health)
}
