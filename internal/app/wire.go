package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TongWu/JAVDB-AutoSpider/internal/fetch"
	"github.com/TongWu/JAVDB-AutoSpider/internal/proxy"
	"github.com/TongWu/JAVDB-AutoSpider/internal/scraper"
)

// NewLogHandler builds the slog handler selected by LOG_FORMAT/LOG_LEVEL.
func NewLogHandler(cfg Config) slog.Handler {
	options := &slog.HandlerOptions{Level: ParseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.NewJSONHandler(os.Stdout, options)
	}
	return slog.NewTextHandler(os.Stdout, options)
}

func ParseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BuildPool assembles the proxy pool with its ban ledger. Returns nil
// when proxying is disabled or no entries are configured.
func BuildPool(cfg Config, useProxy bool, logger *slog.Logger) (*proxy.Pool, error) {
	if !useProxy || len(cfg.Proxy.Pool) == 0 {
		return nil, nil
	}
	entries := make([]proxy.Entry, 0, len(cfg.Proxy.Pool))
	for _, item := range cfg.Proxy.Pool {
		entry, err := proxy.ParseEntry(item.Name, item.URL)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	mode := proxy.ModeSingle
	if cfg.Proxy.Mode == "pool" {
		mode = proxy.ModePool
	}
	pool, err := proxy.New(proxy.Config{
		Mode:        mode,
		Entries:     entries,
		MaxFailures: cfg.Proxy.MaxFailures,
		Cooldown:    cfg.Proxy.Cooldown,
		Modules:     cfg.Proxy.Modules,
	}, proxy.NewLedger(cfg.LedgerPath))
	if err != nil {
		return nil, err
	}
	logger.Info("proxy pool ready",
		slog.String("mode", string(mode)),
		slog.Int("entries", len(entries)),
		slog.Duration("cooldown", cfg.Proxy.Cooldown),
	)
	return pool, nil
}

// BuildFetcher assembles the catalog HTTP client with pacing lanes for
// index and detail traffic.
func BuildFetcher(cfg Config, pool *proxy.Pool, useBypass bool, logger *slog.Logger) *fetch.Client {
	var bypass *fetch.Bypass
	if useBypass && cfg.Bypass.Enabled {
		bypass = &fetch.Bypass{Host: cfg.Bypass.Host, Port: cfg.Bypass.Port}
	}
	pacer := fetch.NewPacer(map[string]time.Duration{
		scraper.ModuleIndex:  cfg.PageSleep,
		scraper.ModuleDetail: cfg.DetailSleep,
	}, cfg.EntrySleep)
	return fetch.NewClient(fetch.Options{
		UserAgent:     cfg.UserAgent,
		SessionCookie: cfg.SessionCookie,
		Timeout:       cfg.RequestTimeout,
		Pool:          pool,
		Bypass:        bypass,
		Pacer:         pacer,
		Logger:        logger,
	})
}

// BuildCache connects the optional Redis detail-page cache. A cache
// outage degrades to fetching every page, never to a failed run.
func BuildCache(cfg Config, logger *slog.Logger) fetch.Cache {
	if cfg.CacheDisabled || strings.TrimSpace(cfg.RedisURL) == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, detail cache disabled", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, detail cache disabled", slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis detail cache connected", slog.String("addr", opts.Addr))
	return fetch.NewRedisCache(client)
}

// ClientTransport returns the transport external clients (torrent
// client, deep storage) should use, honoring the pool's module routing.
func ClientTransport(pool *proxy.Pool, module string) http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if pool == nil || !pool.UsesProxy(module) {
		return transport
	}
	entry, err := pool.Select()
	if err != nil {
		return transport
	}
	transport.Proxy = http.ProxyURL(entry.URL)
	return transport
}
