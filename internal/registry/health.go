package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// HealthChecker is the single writer of the static table's health status.
// It probes every entry's /healthz on a fixed interval; an entry goes DOWN
// after FailureThreshold consecutive failed probes and back UP on the first
// successful one.
type HealthChecker struct {
	table            *Static
	client           *http.Client
	interval         time.Duration
	failureThreshold int

	consecutiveFails map[string]int
}

func NewHealthChecker(table *Static, interval time.Duration, failureThreshold int) *HealthChecker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &HealthChecker{
		table:            table,
		client:           &http.Client{Timeout: 2 * time.Second},
		interval:         interval,
		failureThreshold: failureThreshold,
		consecutiveFails: make(map[string]int),
	}
}

// Run blocks until ctx is canceled, probing all entries each tick.
func (hc *HealthChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hc.CheckNow(ctx)
		}
	}
}

// CheckNow probes every entry once. Exposed so services can warm the table
// at startup before taking traffic.
func (hc *HealthChecker) CheckNow(ctx context.Context) {
	for _, entry := range hc.table.Entries() {
		hc.probe(ctx, entry)
	}
}

func (hc *HealthChecker) probe(ctx context.Context, entry Entry) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.BaseURL+constants.HealthzPath, nil)
	if err != nil {
		hc.recordFailure(ctx, entry)
		return
	}
	resp, err := hc.client.Do(req)
	if err != nil {
		hc.recordFailure(ctx, entry)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		hc.recordFailure(ctx, entry)
		return
	}

	hc.consecutiveFails[entry.ServiceName] = 0
	if entry.Health != HealthUp {
		logger.Ctx(ctx).Info().Str("service", entry.ServiceName).Msg("health probe succeeded, marking UP")
		hc.table.setHealth(entry.ServiceName, HealthUp)
	}
}

func (hc *HealthChecker) recordFailure(ctx context.Context, entry Entry) {
	hc.consecutiveFails[entry.ServiceName]++
	if hc.consecutiveFails[entry.ServiceName] >= hc.failureThreshold && entry.Health != HealthDown {
		logger.Ctx(ctx).Warn().
			Str("service", entry.ServiceName).
			Int("consecutive_failures", hc.consecutiveFails[entry.ServiceName]).
			Msg("health probes failing, marking DOWN")
		hc.table.setHealth(entry.ServiceName, HealthDown)
	}
}
