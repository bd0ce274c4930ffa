// Package registry resolves logical service names to network addresses.
// The default implementation is a static routing table fed from
// configuration and refreshed in place by a single health-check task; a
// nacos-backed resolver can be plugged in instead for dynamic discovery.
// Call sites never hard-code addresses.
package registry

import (
	"context"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
)

// Health of a routing entry. Entries start UNKNOWN at boot, go DOWN after
// repeated failed probes and back UP on a successful one.
type Health int

const (
	HealthUnknown Health = iota
	HealthUp
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthUp:
		return "UP"
	case HealthDown:
		return "DOWN"
	}
	return "UNKNOWN"
}

// Entry maps one logical service name to its base address.
type Entry struct {
	ServiceName string
	BaseURL     string
	Health      Health
}

// Resolver is the discovery capability used by every outbound call site.
type Resolver interface {
	// Resolve returns the base URL ("http://host:port") for serviceName.
	// Unknown names yield a KindNotFound error; known but unhealthy
	// targets yield KindUnavailable.
	Resolve(ctx context.Context, serviceName string) (string, error)
}

func errUnknownService(name string) error {
	return apperr.NotFoundf("unknown service %q", name)
}
