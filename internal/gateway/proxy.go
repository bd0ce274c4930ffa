package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpx"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/registry"
	"github.com/wangyingjie930/nexus-commerce/internal/resilience"
)

// RouteObserver is called after every routing decision. It is the attach
// point for request accounting without baking a metrics stack into the
// proxy.
type RouteObserver func(service string, decision string, elapsed time.Duration)

func defaultObserver(service, decision string, elapsed time.Duration) {
	logger.Logger.Debug().
		Str("service", service).
		Str("decision", decision).
		Dur("elapsed", elapsed).
		Msg("route")
}

// hop-by-hop headers per RFC 7230 §6.1, never forwarded.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Proxy routes external requests to internal services by path prefix.
// Backend addresses come from the resolver and are never exposed to the
// caller, in errors or otherwise.
type Proxy struct {
	resolver registry.Resolver
	exec     *resilience.Executor
	client   *http.Client
	observer RouteObserver

	// prefixes sorted longest first so the most specific route wins.
	prefixes []string
	services map[string]string
}

func NewProxy(resolver registry.Resolver, exec *resilience.Executor) *Proxy {
	routes := map[string]string{
		constants.OrdersPath: constants.OrderService,
		"/billing":           constants.BillingService,
		"/inventory":         constants.InventoryService,
	}
	prefixes := make([]string, 0, len(routes))
	for p := range routes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	return &Proxy{
		resolver: resolver,
		exec:     exec,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		observer: defaultObserver,
		prefixes: prefixes,
		services: routes,
	}
}

// SetObserver replaces the routing decision hook.
func (p *Proxy) SetObserver(obs RouteObserver) {
	if obs != nil {
		p.observer = obs
	}
}

func (p *Proxy) match(path string) (string, bool) {
	for _, prefix := range p.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return p.services[prefix], true
		}
	}
	return "", false
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	service, ok := p.match(r.URL.Path)
	if !ok {
		p.observer("", "unmatched", time.Since(start))
		httpx.RespondError(r.Context(), w, apperr.NotFoundf("no route for %s", r.URL.Path))
		return
	}

	ctx, span := otel.Tracer(constants.APIGatewayService).Start(r.Context(), "Proxy "+service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("peer.service", service)))
	defer span.End()

	// The body may be replayed on retry, so it has to be buffered.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.RespondError(ctx, w, apperr.Validationf("unreadable request body"))
		return
	}

	var resp *forwardResult
	opts := []resilience.Option{}
	if idempotentMethod(r.Method) {
		opts = append(opts, resilience.Idempotent())
	} else if key := r.Header.Get(constants.HeaderIdempotencyKey); key != "" {
		opts = append(opts, resilience.WithIdempotencyKey(key))
	}

	err = p.exec.Do(ctx, service, func(ctx context.Context) error {
		var ferr error
		resp, ferr = p.forward(ctx, service, r, body)
		return ferr
	}, opts...)
	if err != nil {
		p.observer(service, "failed", time.Since(start))
		logger.Ctx(ctx).Warn().Err(err).Str("service", service).Msg("proxy forward failed")
		httpx.RespondError(ctx, w, err)
		return
	}

	p.observer(service, "forwarded", time.Since(start))

	for k, vv := range resp.header {
		if hopByHop[k] {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

type forwardResult struct {
	status int
	header http.Header
	body   []byte
}

func (p *Proxy) forward(ctx context.Context, service string, r *http.Request, body []byte) (*forwardResult, error) {
	base, err := p.resolver.Resolve(ctx, service)
	if err != nil {
		return nil, err
	}

	url := base + r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Invariantf("build upstream request: %v", err)
	}
	for k, vv := range r.Header {
		if hopByHop[k] {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if ip := clientIP(r); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Unavailable(err, service+" is unreachable")
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperr.Unavailable(err, service+" response truncated")
	}
	if res.StatusCode >= http.StatusInternalServerError {
		// 5xx counts as a dependency failure for the breaker; the caller
		// still gets a clean unavailable envelope, not the raw upstream
		// error.
		return nil, apperr.Unavailable(nil, service+" failed")
	}
	return &forwardResult{status: res.StatusCode, header: res.Header, body: respBody}, nil
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
