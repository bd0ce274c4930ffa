package outbox

import (
	"context"
	"time"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// LeaderGate is held while forwarding so that only one replica publishes the
// outbox at a time. The zookeeper-backed implementation lives in
// internal/zklock; NopGate serves single-instance deployments.
type LeaderGate interface {
	Acquire(ctx context.Context) error
	Release() error
}

type NopGate struct{}

func (NopGate) Acquire(context.Context) error { return nil }
func (NopGate) Release() error                { return nil }

// Forwarder periodically drains the pending outbox.
type Forwarder struct {
	service  *Service
	interval time.Duration
	gate     LeaderGate
}

func NewForwarder(service *Service, interval time.Duration, gate LeaderGate) *Forwarder {
	if gate == nil {
		gate = NopGate{}
	}
	return &Forwarder{
		service:  service,
		interval: interval,
		gate:     gate,
	}
}

// Run blocks until the context is canceled.
func (f *Forwarder) Run(ctx context.Context) error {
	log := logger.Ctx(ctx)

	if err := f.gate.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := f.gate.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release forwarder leadership")
		}
	}()

	log.Info().Dur("interval", f.interval).Msg("starting outbox forwarder")
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping outbox forwarder")
			return nil
		case <-ticker.C:
			if err := f.service.ForwardPendingMessages(ctx); err != nil {
				log.Error().Err(err).Msg("error during outbox forwarding cycle")
			}
		}
	}
}
