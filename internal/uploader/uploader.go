package uploader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/report"
)

// TorrentClient is the slice of the client Web UI the uploader needs.
type TorrentClient interface {
	Login(ctx context.Context) error
	Add(ctx context.Context, magnet string, opts qbt.AddOptions) error
}

// Config carries the uploader's runtime knobs.
type Config struct {
	CategoryDaily string
	CategoryAdhoc string
	SavePath      string
	AutoStart     bool
	SkipChecking  bool
	InterAddDelay time.Duration
	DryRun        bool
}

// Uploader pushes a report's fresh magnets to the torrent client,
// records them in history and rewrites the report with downloaded
// markers so reruns are no-ops.
type Uploader struct {
	client  TorrentClient
	history *history.Store
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func New(client TorrentClient, store *history.Store, cfg Config, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, history: store, cfg: cfg, logger: logger, now: time.Now}
}

// Run processes one report. The summary reflects whatever completed,
// also when an error aborts the pass; the report file is rewritten
// atomically in both cases so markers applied so far survive.
func (u *Uploader) Run(ctx context.Context, reportPath string, mode string) (domain.UploadSummary, error) {
	summary := domain.UploadSummary{}
	rows, err := report.ReadAll(reportPath)
	if errors.Is(err, os.ErrNotExist) {
		// The scraper selected nothing and never created the report.
		return summary, nil
	}
	if err != nil {
		return summary, err
	}

	category := u.cfg.CategoryDaily
	if mode == "adhoc" {
		category = u.cfg.CategoryAdhoc
	}

	loggedIn := false
	addedAny := false
	var abort error

rows:
	for i := range rows {
		row := &rows[i]
		for _, t := range domain.TorrentTypes {
			cell, ok := row.Cells[t]
			if !ok || cell.Downloaded() {
				continue
			}
			uri := cell.URI()
			if uri == "" {
				continue
			}

			// A column already stamped in history only needs its marker.
			if u.history.IsDownloaded(row.Href, t) {
				cell.Magnet = report.DownloadedPrefix + uri
				row.Cells[t] = cell
				summary.AlreadyDownloaded++
				continue
			}
			if u.cfg.DryRun {
				summary.Attempted++
				continue
			}

			if !loggedIn {
				if err := u.client.Login(ctx); err != nil {
					abort = err
					break rows
				}
				loggedIn = true
			}
			if addedAny {
				if err := sleep(ctx, u.cfg.InterAddDelay); err != nil {
					abort = domain.E(domain.KindNetwork, "uploader", err)
					break rows
				}
			}

			summary.Attempted++
			err := u.client.Add(ctx, uri, qbt.AddOptions{
				Category:     category,
				SavePath:     u.cfg.SavePath,
				AutoStart:    u.cfg.AutoStart,
				SkipChecking: u.cfg.SkipChecking,
			})
			switch {
			case err == nil:
				addedAny = true
				summary.Added++
				metrics.AddsTotal.WithLabelValues("ok").Inc()
				entry := domain.Entry{Href: row.Href, VideoCode: row.VideoCode, Title: row.Title, Page: row.Page}
				if err := u.history.MarkDownloaded(entry, phaseOf(u.history, row.Href), []domain.TorrentType{t}, u.now()); err != nil {
					abort = err
					break rows
				}
				cell.Magnet = report.DownloadedPrefix + uri
				row.Cells[t] = cell
				u.logger.Info("torrent added",
					slog.String("video", row.VideoCode),
					slog.String("type", string(t)),
					slog.String("category", category))
			case errors.Is(err, qbt.ErrRejected):
				summary.Rejected++
				metrics.AddsTotal.WithLabelValues("rejected").Inc()
				u.logger.Warn("torrent rejected",
					slog.String("video", row.VideoCode),
					slog.String("type", string(t)),
					slog.String("error", err.Error()))
			default:
				metrics.AddsTotal.WithLabelValues("error").Inc()
				abort = err
				break rows
			}
		}
	}

	if !u.cfg.DryRun {
		if err := report.Rewrite(reportPath, rows); err != nil {
			if abort == nil {
				abort = err
			}
		}
	}
	return summary, abort
}

// phaseOf keeps the history row's original phase when the entry is
// already known.
func phaseOf(store *history.Store, href string) int {
	if record, ok := store.Lookup(href); ok && record.Phase != 0 {
		return record.Phase
	}
	return 1
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
