package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/proxy"
)

const maxBodyBytes = 4 * 1024 * 1024

// Bypass describes the challenge-solving front-end. Requests are
// rewritten to it with the original host carried in a header; cookies
// pass through unchanged.
type Bypass struct {
	Host string
	Port int
}

// Request is one outbound call. Module tags the calling subsystem and
// decides proxy routing and pacing lane.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Form   url.Values
	Module string
}

// Result is the classified outcome of a call.
type Result struct {
	StatusCode int
	FinalURL   string
	Header     http.Header
	Body       []byte
	Class      Class
	Proxy      string // proxy name used, empty for direct
}

// Options configures a Client.
type Options struct {
	UserAgent     string
	SessionCookie string
	Timeout       time.Duration
	Pool          *proxy.Pool // nil disables proxying
	Bypass        *Bypass     // nil disables challenge bypass
	Pacer         *Pacer
	Retry         RetryConfig
	Logger        *slog.Logger
	Transport     http.RoundTripper // overridden in tests
}

// Client performs GET/POST with browser-like headers, optional proxy
// selection, optional bypass rewriting and classification-aware retry.
type Client struct {
	opts      Options
	base      *http.Client
	mu        sync.Mutex
	proxied   map[string]*http.Client
	banEvents atomic.Int64
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		base:    &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(opts.transport())},
		proxied: make(map[string]*http.Client),
	}
}

func (o Options) transport() http.RoundTripper {
	if o.Transport != nil {
		return o.Transport
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Only explicitly configured proxies apply, never ambient env ones.
	transport.Proxy = nil
	return transport
}

// Get fetches rawURL for the given module.
func (c *Client) Get(ctx context.Context, rawURL, module string) (Result, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Module: module})
}

// Do performs the request. NETWORK and TRANSIENT outcomes are retried
// with jittered backoff; BAN, AUTH and OK are final. OK, BAN, TRANSIENT
// and NETWORK outcomes are reported to the pool for the proxy that
// carried the attempt; AUTH outcomes are not reported.
func (c *Client) Do(ctx context.Context, req Request) (Result, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return Result{}, domain.E(domain.KindLogicGuard, "fetch", fmt.Errorf("invalid url %q: %w", req.URL, err))
	}
	lane := req.Module
	if c.opts.Pacer != nil {
		if err := c.opts.Pacer.Wait(ctx, target.Host, lane); err != nil {
			return Result{}, domain.E(domain.KindNetwork, "fetch.pace", err)
		}
	}

	var last Result
	var lastErr error
	for attempt := 0; attempt < c.opts.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.opts.Retry, attempt-1); err != nil {
				return last, domain.E(domain.KindNetwork, "fetch.backoff", err)
			}
		}
		result, err := c.attempt(ctx, req, target)
		last, lastErr = result, err
		if err != nil {
			if domain.IsKind(err, domain.KindNoProxy) {
				return result, err
			}
			continue // transport error, retry
		}
		switch result.Class {
		case ClassOK:
			return result, nil
		case ClassTransient:
			lastErr = domain.Ef(domain.KindTransientHTTP, "fetch", "HTTP %d from %s", result.StatusCode, result.FinalURL)
			continue
		case ClassBan:
			return result, domain.Ef(domain.KindBan, "fetch", "banned response (HTTP %d) from %s", result.StatusCode, result.FinalURL)
		case ClassAuth:
			return result, domain.Ef(domain.KindAuth, "fetch", "authentication required at %s", result.FinalURL)
		}
	}
	if lastErr == nil {
		lastErr = domain.Ef(domain.KindNetwork, "fetch", "request failed after %d attempts", c.opts.Retry.MaxAttempts)
	}
	return last, lastErr
}

// attempt performs a single exchange, classifies it and reports the
// outcome to the pool.
func (c *Client) attempt(ctx context.Context, req Request, target *url.URL) (Result, error) {
	httpClient := c.base
	proxyName := ""
	if c.opts.Pool != nil && c.opts.Pool.UsesProxy(req.Module) {
		entry, err := c.opts.Pool.Select()
		if err != nil {
			return Result{}, err
		}
		proxyName = entry.Name
		httpClient = c.clientFor(entry)
	}

	requestURL := target
	hostHeader := ""
	if c.opts.Bypass != nil {
		rewritten := *target
		rewritten.Scheme = "http"
		rewritten.Host = c.opts.Bypass.Host + ":" + strconv.Itoa(c.opts.Bypass.Port)
		requestURL = &rewritten
		hostHeader = target.Host
	}

	var body io.Reader
	if len(req.Form) > 0 {
		body = strings.NewReader(req.Form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, requestURL.String(), body)
	if err != nil {
		return Result{}, domain.E(domain.KindLogicGuard, "fetch", err)
	}
	c.applyHeaders(httpReq, req, hostHeader)

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	metrics.FetchDuration.WithLabelValues(req.Module).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := domain.KindNetwork
		if !isTransportError(err) {
			kind = domain.KindTransientHTTP
		}
		c.report(proxyName, kind, err.Error())
		metrics.FetchRequestsTotal.WithLabelValues(req.Module, "network").Inc()
		return Result{Proxy: proxyName}, domain.E(kind, "fetch", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.report(proxyName, domain.KindNetwork, err.Error())
		metrics.FetchRequestsTotal.WithLabelValues(req.Module, "network").Inc()
		return Result{Proxy: proxyName}, domain.E(domain.KindNetwork, "fetch.body", err)
	}

	finalURL := resp.Request.URL
	class := Classify(resp.StatusCode, finalURL, payload, c.opts.SessionCookie != "")
	result := Result{
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL.String(),
		Header:     resp.Header,
		Body:       payload,
		Class:      class,
		Proxy:      proxyName,
	}
	metrics.FetchRequestsTotal.WithLabelValues(req.Module, class.String()).Inc()

	switch class {
	case ClassOK:
		if proxyName != "" {
			c.opts.Pool.ReportSuccess(proxyName)
		}
	case ClassBan:
		if proxyName == "" {
			c.banEvents.Add(1)
		}
		c.report(proxyName, domain.KindBan, fmt.Sprintf("HTTP %d at %s", resp.StatusCode, finalURL))
	case ClassTransient:
		c.report(proxyName, domain.KindTransientHTTP, fmt.Sprintf("HTTP %d", resp.StatusCode))
	case ClassAuth:
		// Session problem, not a proxy problem; no failure charged.
	}
	return result, nil
}

func (c *Client) applyHeaders(httpReq *http.Request, req Request, bypassHost string) {
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	if c.opts.SessionCookie != "" {
		httpReq.Header.Set("Cookie", c.opts.SessionCookie)
	}
	if len(req.Form) > 0 {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if bypassHost != "" {
		httpReq.Header.Set("X-Hostname", bypassHost)
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
}

func (c *Client) report(proxyName string, kind domain.Kind, description string) {
	if proxyName == "" || c.opts.Pool == nil {
		return
	}
	if banned := c.opts.Pool.ReportFailure(proxyName, kind, description); banned {
		c.banEvents.Add(1)
		c.opts.Logger.Warn("proxy placed on cooldown",
			slog.String("proxy", proxyName),
			slog.String("kind", kind.String()),
			slog.String("detail", description),
		)
	}
}

// BanEvents counts ban events observed over this client's lifetime:
// proxies placed on cooldown, plus ban-classified responses on direct
// connections.
func (c *Client) BanEvents() int {
	return int(c.banEvents.Load())
}

// clientFor returns the cached http.Client routed through the proxy.
func (c *Client) clientFor(entry proxy.Entry) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.proxied[entry.Name]; ok {
		return client
	}
	var transport http.RoundTripper
	if c.opts.Transport != nil {
		// Test transports see every request regardless of proxy.
		transport = c.opts.Transport
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = http.ProxyURL(entry.URL)
		transport = t
	}
	client := &http.Client{Timeout: c.opts.Timeout, Transport: otelhttp.NewTransport(transport)}
	c.proxied[entry.Name] = client
	return client
}
