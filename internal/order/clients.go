package order

import (
	"context"

	"github.com/wangyingjie930/nexus-commerce/internal/billing"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpclient"
	"github.com/wangyingjie930/nexus-commerce/internal/inventory"
)

// InventoryClient is the coordinator's outbound port to the inventory
// service. Both operations are idempotent downstream, so the resilience
// layer retries them freely.
type InventoryClient interface {
	Reserve(ctx context.Context, orderID string, items []Item) error
	Release(ctx context.Context, orderID string) error
}

// ChargeResult is the billing verdict the saga branches on.
type ChargeResult struct {
	Status      billing.ChargeStatus
	ReferenceID string
	Reason      string
}

// BillingClient is the coordinator's outbound port to the billing service.
// Charge is only retried because it always carries an idempotency key.
type BillingClient interface {
	Charge(ctx context.Context, orderID string, amountCents int64, idempotencyKey string) (*ChargeResult, error)
}

// HTTP implementations over the shared resilient client.

type httpInventoryClient struct {
	client *httpclient.Client
}

func NewInventoryClient(client *httpclient.Client) InventoryClient {
	return &httpInventoryClient{client: client}
}

func (c *httpInventoryClient) Reserve(ctx context.Context, orderID string, items []Item) error {
	req := inventory.ReserveRequest{OrderID: orderID}
	for _, it := range items {
		req.Items = append(req.Items, inventory.Item{SKU: it.SKU, Qty: it.Qty})
	}
	var resp inventory.ReserveResponse
	return c.client.PostJSON(ctx, constants.InventoryService, constants.InventoryReservePath,
		req, &resp, httpclient.CallOpts{Idempotent: true})
}

func (c *httpInventoryClient) Release(ctx context.Context, orderID string) error {
	req := inventory.ReleaseRequest{OrderID: orderID}
	var resp inventory.ReleaseResponse
	return c.client.PostJSON(ctx, constants.InventoryService, constants.InventoryReleasePath,
		req, &resp, httpclient.CallOpts{Idempotent: true})
}

type httpBillingClient struct {
	client *httpclient.Client
}

func NewBillingClient(client *httpclient.Client) BillingClient {
	return &httpBillingClient{client: client}
}

func (c *httpBillingClient) Charge(ctx context.Context, orderID string, amountCents int64, idempotencyKey string) (*ChargeResult, error) {
	req := billing.ChargeRequest{OrderID: orderID, AmountCents: amountCents}
	var resp billing.ChargeResponse
	err := c.client.PostJSON(ctx, constants.BillingService, constants.BillingChargePath,
		req, &resp, httpclient.CallOpts{IdempotencyKey: idempotencyKey})
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		Status:      resp.Status,
		ReferenceID: resp.ReferenceID,
		Reason:      resp.Reason,
	}, nil
}
