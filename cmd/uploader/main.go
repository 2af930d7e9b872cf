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
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/uploader"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		reportPath = flag.String("report", "", "report file to process (required)")
		mode       = flag.String("mode", "daily", "category mode: daily or adhoc")
		useProxy   = flag.Bool("use-proxy", true, "honor the proxy pool's module routing")
		dryRun     = flag.Bool("dry-run", false, "process without adding torrents or marking history")
	)
	flag.Parse()

	cfg := app.LoadConfig()
	logger := slog.New(app.NewLogHandler(cfg))
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	if *reportPath == "" {
		logger.Error("missing -report flag")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	client, err := qbt.NewClient(qbt.Config{
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

	up := uploader.New(client, store, uploader.Config{
		CategoryDaily: cfg.Qbt.CategoryDaily,
		CategoryAdhoc: cfg.Qbt.CategoryAdhoc,
		SavePath:      cfg.Qbt.SavePath,
		AutoStart:     cfg.Qbt.AutoStart,
		SkipChecking:  cfg.Qbt.SkipChecking,
		InterAddDelay: cfg.Qbt.InterAddDelay,
		DryRun:        *dryRun,
	}, logger)

	summary, err := up.Run(ctx, *reportPath, *mode)
	logger.Info("upload finished",
		slog.Int("attempted", summary.Attempted),
		slog.Int("added", summary.Added),
		slog.Int("rejected", summary.Rejected),
		slog.Int("alreadyDownloaded", summary.AlreadyDownloaded),
	)
	if err != nil {
		logger.Error("upload failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}
