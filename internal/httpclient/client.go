// Package httpclient is the one way services talk to each other: a traced
// JSON client that resolves logical service names through a registry
// Resolver and guards every call with the resilience executor. Callers never
// see a network address.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
	"github.com/wangyingjie930/nexus-commerce/internal/registry"
	"github.com/wangyingjie930/nexus-commerce/internal/resilience"
)

// Client is a traceable, injectable HTTP client for service-to-service calls.
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   registry.Resolver
	Exec       *resilience.Executor
}

// NewClient builds a client around a shared transport. The transport carries
// no timeout of its own: deadlines are controlled entirely by the per-attempt
// context the resilience executor supplies.
func NewClient(tracer trace.Tracer, resolver registry.Resolver, exec *resilience.Executor) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		Resolver:   resolver,
		Exec:       exec,
	}
}

// CallOpts controls retry eligibility for one logical call.
type CallOpts struct {
	// Idempotent marks the call as safe to retry unconditionally.
	Idempotent bool
	// IdempotencyKey makes a non-idempotent call retriable: it is sent as
	// the X-Idempotency-Key header so the downstream replays instead of
	// re-executing.
	IdempotencyKey string
}

// GetJSON performs an idempotent GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, serviceName, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, serviceName, path, nil, out, CallOpts{Idempotent: true})
}

// PostJSON performs a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, serviceName, path string, in, out interface{}, opts CallOpts) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return apperr.Validationf("failed to encode request body: %v", err)
		}
	}
	return c.call(ctx, http.MethodPost, serviceName, path, body, out, opts)
}

func (c *Client) call(ctx context.Context, method, serviceName, path string, body []byte, out interface{}, opts CallOpts) error {
	var execOpts []resilience.Option
	if opts.Idempotent {
		execOpts = append(execOpts, resilience.Idempotent())
	}
	if opts.IdempotencyKey != "" {
		execOpts = append(execOpts, resilience.WithIdempotencyKey(opts.IdempotencyKey))
	}

	return c.Exec.Do(ctx, serviceName, func(ctx context.Context) error {
		return c.attempt(ctx, method, serviceName, path, body, out, opts.IdempotencyKey)
	}, execOpts...)
}

// attempt is one guarded round trip: resolve, span, send, classify.
func (c *Client) attempt(ctx context.Context, method, serviceName, path string, body []byte, out interface{}, idempotencyKey string) error {
	baseURL, err := c.Resolver.Resolve(ctx, serviceName)
	if err != nil {
		return err
	}

	spanName := fmt.Sprintf("call-%s", serviceName)
	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	url := baseURL + path
	span.SetAttributes(
		attribute.String("http.url", url),
		attribute.String("http.method", method),
		attribute.String("peer.service", serviceName),
	)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(constants.HeaderIdempotencyKey, idempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if err := classify(resp, serviceName); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			span.RecordError(err)
			return apperr.Invariantf("service %s returned an undecodable body: %v", serviceName, err)
		}
	}
	return nil
}

// classify turns a non-2xx response into the matching error kind. 5xx means
// the dependency is in trouble (retriable); 4xx carries the downstream
// verdict in the shared error envelope and is final.
func classify(resp *http.Response, serviceName string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var envelope httpx.ErrorBody
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode >= 500 {
		return apperr.Unavailable(
			fmt.Errorf("service %s returned status %s", serviceName, resp.Status),
			"dependency "+serviceName+" failed")
	}
	if decodeErr != nil || envelope.Error.Code == "" {
		return apperr.Validationf("service %s rejected the request with status %s", serviceName, resp.Status)
	}
	return apperr.FromCode(envelope.Error.Code, envelope.Error.Message)
}
