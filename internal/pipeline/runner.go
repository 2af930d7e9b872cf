package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/scraper"
)

// Scraper is the scraping step as the orchestrator sees it.
type Scraper interface {
	Run(ctx context.Context, opts scraper.Options) (domain.ScrapeSummary, error)
}

// Uploader is the upload step as the orchestrator sees it.
type Uploader interface {
	Run(ctx context.Context, reportPath, mode string) (domain.UploadSummary, error)
}

// TorrentLister is the slice of the client Web UI the deep-storage step
// uses to find handles old enough to offload.
type TorrentLister interface {
	Login(ctx context.Context) error
	ListRecent(ctx context.Context, since time.Time, categories []string) ([]qbt.TorrentInfo, error)
}

// DeepStore is the bridge to the offload service.
type DeepStore interface {
	SubmitBatch(ctx context.Context, magnets []string) (string, error)
}

// ProxyObserver exposes the pool state the run status embeds.
type ProxyObserver interface {
	Snapshot() []domain.ProxyStat
	BanDelta() []domain.BanRecord
}

// Config wires the orchestrator's collaborators. Qbt and Deep are
// optional: without them the deep-storage step is skipped.
type Config struct {
	Scraper    Scraper
	Uploader   Uploader
	Qbt        TorrentLister
	Deep       DeepStore
	Pool       ProxyObserver
	Publisher  Publisher
	Notifier   Notifier
	Logger     *slog.Logger
	Capture    *CaptureHandler
	MinAge     time.Duration // deep-storage offload age floor
	Categories []string      // categories the deep-storage step scans
}

// Runner sequences scraper → publisher → uploader → deep-storage and
// classifies the outcome. Exactly one RunStatus is produced per run.
type Runner struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Runner {
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, now: time.Now}
}

// Run executes the pipeline and returns the run status. The exit code
// contract is status.Outcome.ExitCode().
func (r *Runner) Run(ctx context.Context, opts scraper.Options) domain.RunStatus {
	status := domain.RunStatus{
		RunID:     uuid.NewString()[:8],
		Mode:      string(opts.Mode),
		StartedAt: r.now(),
	}

	scrapeSummary, scrapeErr := r.cfg.Scraper.Run(ctx, opts)
	status.Scrape = scrapeSummary
	if scrapeErr != nil {
		if domain.IsKind(scrapeErr, domain.KindNoProxy) {
			// Distinct failure: the pool was exhausted by bans. Nothing
			// downstream runs; the ban delta tells the operator why.
			r.finish(ctx, &status, domain.OutcomeProxyBanned, scrapeErr.Error())
			return status
		}
		r.finish(ctx, &status, domain.OutcomeCritical, scrapeErr.Error())
		return status
	}

	if err := r.cfg.Publisher.Publish(ctx, []string{scrapeSummary.ReportPath}); err != nil {
		r.cfg.Logger.Warn("artifact publish failed", slog.String("error", err.Error()))
	}

	uploadSummary, uploadErr := r.cfg.Uploader.Run(ctx, scrapeSummary.ReportPath, string(opts.Mode))
	status.Upload = uploadSummary
	if uploadErr != nil {
		r.finish(ctx, &status, domain.OutcomeCritical, uploadErr.Error())
		return status
	}
	if uploadSummary.Attempted > 0 && uploadSummary.Added == 0 {
		r.finish(ctx, &status, domain.OutcomeCritical,
			"all torrent adds failed")
		return status
	}

	r.deepStoreStep(ctx, &status)
	if status.DeepStore.Outage {
		r.finish(ctx, &status, domain.OutcomeCritical, "deep storage unreachable")
		return status
	}

	outcome := domain.OutcomeSuccess
	cause := ""
	if scrapeSummary.EntriesSelected == 0 && uploadSummary.Added == 0 {
		outcome = domain.OutcomeSuccessEmpty
	}
	if scrapeSummary.Partial {
		cause = "run budget exhausted, partial crawl"
	}
	r.finish(ctx, &status, outcome, cause)
	return status
}

// deepStoreStep offloads completed torrents older than the age floor.
// Per-item API failures are non-critical; only an unreachable service
// marks an outage.
func (r *Runner) deepStoreStep(ctx context.Context, status *domain.RunStatus) {
	if r.cfg.Qbt == nil || r.cfg.Deep == nil {
		return
	}
	if err := r.cfg.Qbt.Login(ctx); err != nil {
		r.cfg.Logger.Warn("deep-storage step skipped: torrent client login failed",
			slog.String("error", err.Error()))
		return
	}
	torrents, err := r.cfg.Qbt.ListRecent(ctx, time.Time{}, r.cfg.Categories)
	if err != nil {
		r.cfg.Logger.Warn("deep-storage step skipped: torrent list failed",
			slog.String("error", err.Error()))
		return
	}

	cutoff := r.now().Add(-r.cfg.MinAge).Unix()
	magnets := make([]string, 0, len(torrents))
	for _, torrent := range torrents {
		if torrent.Progress < 1 || torrent.AddedOn > cutoff {
			continue
		}
		if torrent.MagnetURI == "" {
			continue
		}
		magnets = append(magnets, torrent.MagnetURI)
	}
	if len(magnets) == 0 {
		return
	}

	batchID, err := r.cfg.Deep.SubmitBatch(ctx, magnets)
	if err != nil {
		if domain.IsKind(err, domain.KindNetwork) {
			status.DeepStore.Outage = true
		}
		status.DeepStore.Failed = len(magnets)
		r.cfg.Logger.Warn("deep-storage submit failed",
			slog.Int("magnets", len(magnets)), slog.String("error", err.Error()))
		return
	}
	status.DeepStore.Submitted = len(magnets)
	r.cfg.Logger.Info("deep-storage batch submitted",
		slog.String("batchId", batchID), slog.Int("magnets", len(magnets)))
}

func (r *Runner) finish(ctx context.Context, status *domain.RunStatus, outcome domain.Outcome, cause string) {
	status.Outcome = outcome
	status.Cause = cause
	if r.cfg.Pool != nil {
		status.ProxyStats = r.cfg.Pool.Snapshot()
		status.BanDelta = r.cfg.Pool.BanDelta()
	}
	if r.cfg.Capture != nil {
		status.LogExcerpt = r.cfg.Capture.Lines()
	}
	status.FinishedAt = r.now()
	if err := r.cfg.Notifier.Notify(ctx, *status); err != nil {
		r.cfg.Logger.Warn("status notification failed", slog.String("error", err.Error()))
	}
}
