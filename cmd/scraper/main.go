package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TongWu/JAVDB-AutoSpider/internal/app"
	"github.com/TongWu/JAVDB-AutoSpider/internal/catalog"
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/scraper"
	"github.com/TongWu/JAVDB-AutoSpider/internal/telemetry"
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
		ignoreHistory     = flag.Bool("ignore-history", false, "reprocess entries regardless of history")
		ignoreReleaseDate = flag.Bool("ignore-release-date", false, "skip the released-today/yesterday gate")
		useProxy          = flag.Bool("use-proxy", true, "route configured modules through the proxy pool")
		useBypass         = flag.Bool("use-bypass", false, "route catalog traffic through the challenge bypass")
		dryRun            = flag.Bool("dry-run", false, "process without writing the report or history")
		outputFile        = flag.String("output-file", "", "report path override")
	)
	flag.Parse()

	cfg := app.LoadConfig()
	logger := slog.New(app.NewLogHandler(cfg))
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, "javdb-autospider-scraper")
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

	engine := scraper.New(scraper.Config{
		Client:  app.BuildFetcher(cfg, pool, *useBypass, logger),
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
	if *urlOverride != "" {
		opts.Mode = scraper.ModeAdhoc
	}

	summary, err := engine.Run(ctx, opts)
	logger.Info("scrape finished",
		slog.Int("pagesAttempted", summary.PagesAttempted),
		slog.Int("pagesFailed", summary.PagesFailed),
		slog.Int("entriesSelected", summary.EntriesSelected),
		slog.Int("entriesDetailed", summary.EntriesDetailed),
		slog.Int("entriesFailed", summary.EntriesFailed),
		slog.Int("banEvents", summary.BanEvents),
		slog.String("report", summary.ReportPath),
		slog.Bool("partial", summary.Partial),
	)
	if err != nil {
		logger.Error("scrape failed", slog.String("error", err.Error()))
	}
	return scraper.ExitCode(err)
}

func pick(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}
