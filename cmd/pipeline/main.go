package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TongWu/JAVDB-AutoSpider/internal/app"
	"github.com/TongWu/JAVDB-AutoSpider/internal/catalog"
	"github.com/TongWu/JAVDB-AutoSpider/internal/deepstore"
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/pipeline"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/scraper"
	"github.com/TongWu/JAVDB-AutoSpider/internal/telemetry"
	"github.com/TongWu/JAVDB-AutoSpider/internal/uploader"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		phase             = flag.Int("phase", 0, "crawl phase: 1, 2 or 0 for both")
		startPage         = flag.Int("start", 0, "first index page (overrides config)")
		endPage           = flag.Int("end", 0, "last index page (overrides config)")
		allMode           = flag.Bool("all", false, "crawl until an empty index page")
		urlOverride       = flag.String("url", "", "starting URL; switches to ad-hoc mode")
		mode              = flag.String("mode", "", "uploader category mode: daily or adhoc")
		ignoreHistory     = flag.Bool("ignore-history", false, "reprocess entries regardless of history")
		ignoreReleaseDate = flag.Bool("ignore-release-date", false, "skip the released-today/yesterday gate")
		useProxy          = flag.Bool("use-proxy", true, "route configured modules through the proxy pool")
		useBypass         = flag.Bool("use-bypass", false, "route catalog traffic through the challenge bypass")
		dryRun            = flag.Bool("dry-run", false, "process without writing reports, history or torrent adds")
		outputFile        = flag.String("output-file", "", "report path override")
	)
	flag.Parse()

	cfg := app.LoadConfig()
	capture := pipeline.NewCaptureHandler(app.NewLogHandler(cfg), 100)
	logger := slog.New(capture)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, "javdb-autospider")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	pool, err := app.BuildPool(cfg, *useProxy, logger)
	if err != nil {
		logger.Error("proxy pool init failed", slog.String("error", err.Error()))
		return 1
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		logger.Error("history open failed", slog.String("error", err.Error()))
		return 1
	}

	fetcher := app.BuildFetcher(cfg, pool, *useBypass, logger)
	engine := scraper.New(scraper.Config{
		Client:  fetcher,
		History: store,
		BaseURL: cfg.BaseURL,
		Filters: catalog.FilterConfig{
			MinRate:           cfg.Phase2MinRate,
			MinComments:       cfg.Phase2MinComments,
			IgnoreReleaseDate: cfg.IgnoreReleaseDate,
		},
		Cache:     app.BuildCache(cfg, logger),
		CacheTTL:  cfg.CacheTTL,
		Workers:   cfg.DetailWorkers,
		RunBudget: cfg.RunBudget,
		ReportDir: cfg.ReportDir,
		Logger:    logger,
	})

	qbtClient, err := qbt.NewClient(qbt.Config{
		Host:           cfg.Qbt.Host,
		Port:           cfg.Qbt.Port,
		User:           cfg.Qbt.User,
		Pass:           cfg.Qbt.Pass,
		RequestTimeout: cfg.Qbt.RequestTimeout,
		Transport:      app.ClientTransport(pool, "qbittorrent"),
	}, logger)
	if err != nil {
		logger.Error("torrent client init failed", slog.String("error", err.Error()))
		return 1
	}
	up := uploader.New(qbtClient, store, uploader.Config{
		CategoryDaily: cfg.Qbt.CategoryDaily,
		CategoryAdhoc: cfg.Qbt.CategoryAdhoc,
		SavePath:      cfg.Qbt.SavePath,
		AutoStart:     cfg.Qbt.AutoStart,
		SkipChecking:  cfg.Qbt.SkipChecking,
		InterAddDelay: cfg.Qbt.InterAddDelay,
		DryRun:        *dryRun,
	}, logger)

	runnerCfg := pipeline.Config{
		Scraper:    engine,
		Uploader:   up,
		Logger:     logger,
		Capture:    capture,
		MinAge:     time.Duration(cfg.DeepStore.MinAgeDays) * 24 * time.Hour,
		Categories: []string{cfg.Qbt.CategoryDaily, cfg.Qbt.CategoryAdhoc},
	}
	if pool != nil {
		runnerCfg.Pool = pool
	}
	if cfg.DeepStore.Email != "" && !*dryRun {
		runnerCfg.Qbt = qbtClient
		runnerCfg.Deep = deepstore.NewClient(deepstore.Config{
			Endpoint:     cfg.DeepStore.Endpoint,
			Email:        cfg.DeepStore.Email,
			Pass:         cfg.DeepStore.Pass,
			RequestDelay: cfg.DeepStore.RequestDelay,
			Transport:    app.ClientTransport(pool, "pikpak"),
		}, logger)
	}

	opts := scraper.Options{
		Phase:             *phase,
		StartPage:         pick(*startPage, cfg.StartPage),
		EndPage:           pick(*endPage, cfg.EndPage),
		AllMode:           *allMode || cfg.AllMode,
		URLOverride:       *urlOverride,
		Mode:              scraper.ModeDaily,
		IgnoreHistory:     *ignoreHistory,
		IgnoreReleaseDate: *ignoreReleaseDate,
		DryRun:            *dryRun,
		OutputPath:        *outputFile,
	}
	if *urlOverride != "" || *mode == "adhoc" {
		opts.Mode = scraper.ModeAdhoc
	}

	status := pipeline.New(runnerCfg).Run(ctx, opts)
	return status.Outcome.ExitCode()
}

func pick(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}
