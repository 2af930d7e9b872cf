package qbt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// ErrRejected is a per-torrent refusal from the client; it is never
// critical on its own.
var ErrRejected = errors.New("torrent rejected by client")

// TorrentInfo is the WebAPI v2 torrent shape, reduced to the fields the
// pipeline consumes.
type TorrentInfo struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	Size         int64   `json:"size"`
	Category     string  `json:"category"`
	MagnetURI    string  `json:"magnet_uri"`
	AddedOn      int64   `json:"added_on"`
	CompletionOn int64   `json:"completion_on"`
}

// Config locates and authenticates the torrent client's Web UI.
type Config struct {
	Host           string
	Port           int
	User           string
	Pass           string
	RequestTimeout time.Duration
	Transport      http.RoundTripper // overridden in tests
}

// Client wraps the qBittorrent WebAPI v2. Login is performed lazily and
// cached through the SID cookie jar.
type Client struct {
	baseURL  string
	user     string
	pass     string
	hc       *http.Client
	logger   *slog.Logger
	mu       sync.Mutex
	loggedIn bool
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		user:    cfg.User,
		pass:    cfg.Pass,
		hc: &http.Client{
			Timeout:   timeout,
			Jar:       jar,
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger,
	}, nil
}

// Login authenticates once per client; subsequent calls are no-ops.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.user)
	form.Set("password", c.pass)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.E(domain.KindLogicGuard, "qbt.login", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL)

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.E(domain.KindNetwork, "qbt.login", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "Ok") {
		return domain.Ef(domain.KindAuth, "qbt.login",
			"login refused (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	c.loggedIn = true
	c.logger.Info("torrent client login ok", slog.String("user", c.user))
	return nil
}

// AddOptions carries the per-add knobs the uploader configures.
type AddOptions struct {
	Category     string
	SavePath     string
	AutoStart    bool
	SkipChecking bool
}

// Add pushes one magnet. ErrRejected is per-torrent and recoverable;
// any other error is transport or auth level.
func (c *Client) Add(ctx context.Context, magnet string, opts AddOptions) error {
	form := url.Values{}
	form.Set("urls", magnet)
	if opts.Category != "" {
		form.Set("category", opts.Category)
	}
	if opts.SavePath != "" {
		form.Set("savepath", opts.SavePath)
	}
	form.Set("paused", strconv.FormatBool(!opts.AutoStart))
	form.Set("skip_checking", strconv.FormatBool(opts.SkipChecking))

	body, status, err := c.postForm(ctx, "/api/v2/torrents/add", form)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK && strings.HasPrefix(body, "Ok"):
		return nil
	case status == http.StatusForbidden:
		return domain.Ef(domain.KindAuth, "qbt.add", "session expired (status %d)", status)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(body))
	}
}

// ListRecent returns torrents in the given categories added at or after
// since. Categories empty means all.
func (c *Client) ListRecent(ctx context.Context, since time.Time, categories []string) ([]TorrentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v2/torrents/info?sort=added_on&reverse=true", nil)
	if err != nil {
		return nil, domain.E(domain.KindLogicGuard, "qbt.list", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, domain.E(domain.KindNetwork, "qbt.list", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return nil, domain.Ef(domain.KindAuth, "qbt.list", "session expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Ef(domain.KindTransientHTTP, "qbt.list", "status %d", resp.StatusCode)
	}

	var items []TorrentInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8*1024*1024)).Decode(&items); err != nil {
		return nil, domain.E(domain.KindParse, "qbt.list", err)
	}

	wanted := make(map[string]bool, len(categories))
	for _, category := range categories {
		wanted[category] = true
	}
	filtered := make([]TorrentInfo, 0, len(items))
	for _, item := range items {
		if len(wanted) > 0 && !wanted[item.Category] {
			continue
		}
		if !since.IsZero() && item.AddedOn < since.Unix() {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered, nil
}

// Delete removes torrents by hash, optionally with their files.
func (c *Client) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", hash)
	form.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	body, status, err := c.postForm(ctx, "/api/v2/torrents/delete", form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return domain.Ef(domain.KindTransientHTTP, "qbt.delete", "status %d: %s", status, strings.TrimSpace(body))
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, domain.E(domain.KindLogicGuard, "qbt.post", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", 0, domain.E(domain.KindNetwork, "qbt.post", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(body), resp.StatusCode, nil
}
