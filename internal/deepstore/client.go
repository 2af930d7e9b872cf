package deepstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// ItemStatus is the per-magnet outcome of a submitted batch.
type ItemStatus string

const (
	ItemOK      ItemStatus = "OK"
	ItemPending ItemStatus = "PENDING"
	ItemFailed  ItemStatus = "FAILED"
)

// Config locates and authenticates the deep-storage service.
type Config struct {
	Endpoint     string
	Email        string
	Pass         string
	RequestDelay time.Duration // rate-limit floor between API calls
	Timeout      time.Duration
	Transport    http.RoundTripper
}

// Client talks to the deep-storage offload service. Every call waits on
// a shared limiter so batch submissions never trip the service's rate
// limits.
type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	token   string
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	delay := cfg.RequestDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(transport)},
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		logger:  logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login obtains and caches the session token.
func (c *Client) Login(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	var out loginResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/signin",
		loginRequest{Email: c.cfg.Email, Password: c.cfg.Pass}, &out); err != nil {
		return err
	}
	if out.Token == "" {
		return domain.Ef(domain.KindAuth, "deepstore.login", "empty token for %s", c.cfg.Email)
	}
	c.token = out.Token
	return nil
}

type submitRequest struct {
	Magnets []string `json:"magnets"`
}

type submitResponse struct {
	BatchID string `json:"batchId"`
}

// SubmitBatch offloads a set of magnets and returns the batch handle.
func (c *Client) SubmitBatch(ctx context.Context, magnets []string) (string, error) {
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	var out submitResponse
	if err := c.call(ctx, http.MethodPost, "/v1/batches", submitRequest{Magnets: magnets}, &out); err != nil {
		return "", err
	}
	if out.BatchID == "" {
		return "", domain.Ef(domain.KindParse, "deepstore.submit", "missing batch id")
	}
	return out.BatchID, nil
}

type statusResponse struct {
	Items map[string]string `json:"items"`
}

// Status reports the per-magnet state of a batch.
func (c *Client) Status(ctx context.Context, batchID string) (map[string]ItemStatus, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	var out statusResponse
	if err := c.call(ctx, http.MethodGet, "/v1/batches/"+batchID, nil, &out); err != nil {
		return nil, err
	}
	items := make(map[string]ItemStatus, len(out.Items))
	for magnet, raw := range out.Items {
		switch ItemStatus(raw) {
		case ItemOK, ItemPending, ItemFailed:
			items[magnet] = ItemStatus(raw)
		default:
			items[magnet] = ItemPending
		}
	}
	return items, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.E(domain.KindNetwork, "deepstore.call", err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return domain.E(domain.KindLogicGuard, "deepstore.call", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, body)
	if err != nil {
		return domain.E(domain.KindLogicGuard, "deepstore.call", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.E(domain.KindNetwork, "deepstore.call", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Ef(domain.KindAuth, "deepstore.call", "status %d on %s", resp.StatusCode, path)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.Ef(domain.KindTransientHTTP, "deepstore.call", "status %d on %s", resp.StatusCode, path)
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("deepstore %s: status %d: %s", path, resp.StatusCode, string(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return domain.E(domain.KindParse, "deepstore.call", err)
	}
	return nil
}
