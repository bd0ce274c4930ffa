// Package constants defines the canonical service names and request paths.
// The names are used for routing, service registration, discovery, logging
// and tracing, so they must stay identical across all binaries.
package constants

const (
	APIGatewayService = "api-gateway"
	OrderService      = "order-service"
	BillingService    = "billing-service"
	InventoryService  = "inventory-service"
)

const (
	// OrderService paths
	OrdersPath      = "/orders"
	OrderCancelPath = "/cancel"

	// InventoryService paths
	InventoryReservePath = "/inventory/reserve"
	InventoryReleasePath = "/inventory/release"
	InventoryStockPath   = "/inventory/"

	// BillingService paths
	BillingChargePath  = "/billing/charge"
	BillingChargesPath = "/billing/charges/"

	// Exposed by every service for the gateway health checker.
	HealthzPath = "/healthz"
)

const (
	// OrderEventsTopic carries order lifecycle events published through the
	// transactional outbox.
	OrderEventsTopic = "nexus.order.events"
	// ShippingEventsTopic is consumed by the order service to move paid
	// orders to SHIPPED once a carrier picks them up.
	ShippingEventsTopic = "nexus.shipping.events"
)

// HeaderIdempotencyKey is forwarded end to end so that retried non-idempotent
// operations (charges) replay instead of executing twice.
const HeaderIdempotencyKey = "X-Idempotency-Key"
