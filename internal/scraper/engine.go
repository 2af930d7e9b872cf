package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/TongWu/JAVDB-AutoSpider/internal/catalog"
	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/fetch"
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
	"github.com/TongWu/JAVDB-AutoSpider/internal/report"
)

const (
	ModuleIndex  = "spider_index"
	ModuleDetail = "spider_detail"
)

// Mode selects the report folder and, downstream, the uploader category.
type Mode string

const (
	ModeDaily Mode = "daily"
	ModeAdhoc Mode = "adhoc"
)

// Options is the per-run invocation surface, assembled from CLI flags
// over the configured defaults.
type Options struct {
	Phase             int // 1, 2, or 0 for both
	StartPage         int
	EndPage           int
	AllMode           bool // crawl until an empty index page
	URLOverride       string
	Mode              Mode
	IgnoreHistory     bool
	IgnoreReleaseDate bool
	DryRun            bool
	OutputPath        string
}

// Config wires the engine's collaborators.
type Config struct {
	Client    *fetch.Client
	History   *history.Store
	BaseURL   string
	Filters   catalog.FilterConfig
	Cache     fetch.Cache // nil disables the detail-page cache
	CacheTTL  time.Duration
	Workers   int // bounded parallel detail fetches, default 1
	RunBudget time.Duration
	ReportDir string
	Logger    *slog.Logger
}

// Engine drives the paginated two-phase crawl and produces the
// run-scoped report.
type Engine struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// Run crawls the configured page range for each selected phase. The
// summary is always returned, also alongside an error, so the caller
// can account for partial progress.
func (e *Engine) Run(ctx context.Context, opts Options) (domain.ScrapeSummary, error) {
	summary := domain.ScrapeSummary{}
	runID := uuid.NewString()[:8]

	reportPath := opts.OutputPath
	if reportPath == "" {
		if opts.Mode == ModeAdhoc {
			reportPath = report.AdhocPath(e.cfg.ReportDir, e.now(), runID)
		} else {
			reportPath = report.DailyPath(e.cfg.ReportDir, e.now(), runID)
		}
	}
	summary.ReportPath = reportPath

	// The file is created lazily on the first row so a run that aborts
	// before producing anything leaves no report behind.
	var sink *reportSink
	if !opts.DryRun {
		sink = &reportSink{path: reportPath}
		defer sink.Close()
	}

	var deadline time.Time
	if e.cfg.RunBudget > 0 {
		deadline = e.now().Add(e.cfg.RunBudget)
	}

	phases := []int{1, 2}
	if opts.Phase == 1 || opts.Phase == 2 {
		phases = []int{opts.Phase}
	}

	var runErr error
phases:
	for _, phase := range phases {
		err := e.runPhase(ctx, phase, opts, sink, &summary, deadline)
		if err != nil {
			runErr = err
			break phases
		}
		if summary.Partial {
			break
		}
	}
	summary.BanEvents = e.cfg.Client.BanEvents()

	if !opts.DryRun {
		if err := e.cfg.History.Commit(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return summary, runErr
	}

	// Total outage: every attempted page failed.
	if summary.PagesAttempted > 0 && summary.PagesFailed == summary.PagesAttempted {
		return summary, domain.Ef(domain.KindNetwork, "scraper",
			"all %d index pages failed", summary.PagesAttempted)
	}
	return summary, nil
}

func (e *Engine) runPhase(
	ctx context.Context,
	phase int,
	opts Options,
	sink *reportSink,
	summary *domain.ScrapeSummary,
	deadline time.Time,
) error {
	baseURL := e.cfg.BaseURL
	if opts.URLOverride != "" {
		baseURL = opts.URLOverride
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return domain.E(domain.KindLogicGuard, "scraper", err)
	}

	phaseLabel := strconv.Itoa(phase)
	filters := e.cfg.Filters
	filters.IgnoreReleaseDate = filters.IgnoreReleaseDate || opts.IgnoreReleaseDate

	page := opts.StartPage
	if page <= 0 {
		page = 1
	}
	consecutiveFailures := 0
	for {
		if !deadline.IsZero() && e.now().After(deadline) {
			// Run budget exhausted: stop at the page boundary, never
			// mid-entry, and let the caller flush what we have.
			summary.Partial = true
			e.cfg.Logger.Warn("run budget exhausted, stopping at page boundary",
				slog.Int("phase", phase), slog.Int("page", page))
			return nil
		}
		if !opts.AllMode && opts.EndPage > 0 && page > opts.EndPage {
			return nil
		}

		target := pageURL(base, page)
		summary.PagesAttempted++
		result, err := e.cfg.Client.Get(ctx, target, ModuleIndex)
		if err != nil {
			summary.PagesFailed++
			switch domain.KindOf(err) {
			case domain.KindNoProxy:
				metrics.PagesTotal.WithLabelValues(phaseLabel, "no_proxy").Inc()
				return err
			case domain.KindAuth:
				metrics.PagesTotal.WithLabelValues(phaseLabel, "auth").Inc()
				return err
			case domain.KindBan:
				metrics.PagesTotal.WithLabelValues(phaseLabel, "ban").Inc()
			default:
				metrics.PagesTotal.WithLabelValues(phaseLabel, "error").Inc()
			}
			e.cfg.Logger.Warn("index page failed",
				slog.Int("phase", phase), slog.Int("page", page), slog.String("error", err.Error()))
			consecutiveFailures++
			// Open-ended crawls cannot reach the empty-page terminal
			// while the site is down; give up after a losing streak.
			if opts.AllMode && consecutiveFailures >= 3 {
				return nil
			}
			page++
			continue
		}
		consecutiveFailures = 0
		metrics.PagesTotal.WithLabelValues(phaseLabel, "ok").Inc()

		entries, warnings := catalog.ParseIndexPage(catalog.DecodePayload(result.Body), page)
		for _, warning := range warnings {
			e.cfg.Logger.Warn("index parse warning", slog.Int("page", page), slog.String("detail", warning))
		}
		if len(entries) == 0 && opts.AllMode {
			e.cfg.Logger.Info("empty index page, crawl complete",
				slog.Int("phase", phase), slog.Int("page", page))
			return nil
		}

		if err := e.processPage(ctx, phase, entries, base, opts, filters, sink, summary); err != nil {
			return err
		}
		page++
	}
}

// pageEntry is one admitted entry and its requested torrent types,
// preserving index-page order through the parallel detail stage.
type pageEntry struct {
	entry     domain.Entry
	wanted    []domain.TorrentType
	selection catalog.Selection
	detailErr error
}

func (e *Engine) processPage(
	ctx context.Context,
	phase int,
	entries []domain.Entry,
	base *url.URL,
	opts Options,
	filters catalog.FilterConfig,
	sink *reportSink,
	summary *domain.ScrapeSummary,
) error {
	phaseLabel := strconv.Itoa(phase)

	selected := make([]*pageEntry, 0, len(entries))
	for _, entry := range entries {
		if !catalog.Admit(entry, phase, filters) {
			metrics.EntriesTotal.WithLabelValues(phaseLabel, "filtered").Inc()
			continue
		}
		wanted := e.cfg.History.ShouldProcess(entry, phase, opts.IgnoreHistory)
		if len(wanted) == 0 {
			metrics.EntriesTotal.WithLabelValues(phaseLabel, "skipped").Inc()
			continue
		}
		summary.EntriesSelected++
		selected = append(selected, &pageEntry{entry: entry, wanted: wanted})
	}
	if len(selected) == 0 {
		return nil
	}

	// Bounded fan-out for detail pages; results land back in discovery
	// order before anything is recorded.
	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	var wg sync.WaitGroup
	for _, item := range selected {
		if err := sem.Acquire(ctx, 1); err != nil {
			return domain.E(domain.KindNetwork, "scraper.detail", err)
		}
		wg.Add(1)
		go func(item *pageEntry) {
			defer wg.Done()
			defer sem.Release(1)
			item.selection, item.detailErr = e.fetchDetail(ctx, base, item)
		}(item)
	}
	wg.Wait()

	now := e.now()
	for _, item := range selected {
		if item.detailErr != nil {
			summary.EntriesFailed++
			kind := domain.KindOf(item.detailErr)
			if kind == domain.KindNoProxy || kind == domain.KindAuth {
				return item.detailErr
			}
			metrics.EntriesTotal.WithLabelValues(phaseLabel, "detail_failed").Inc()
			e.cfg.Logger.Warn("detail fetch failed",
				slog.String("video", item.entry.VideoCode), slog.String("error", item.detailErr.Error()))
			continue
		}
		summary.EntriesDetailed++
		metrics.EntriesTotal.WithLabelValues(phaseLabel, "detailed").Inc()

		// Only the buckets history asked for go into the fresh cells.
		requested := make(map[domain.TorrentType]domain.Magnet, len(item.wanted))
		for _, t := range item.wanted {
			if magnet, ok := item.selection[t]; ok {
				requested[t] = magnet
			}
		}

		row := report.NewRow(item.entry, requested)
		for _, t := range domain.TorrentTypes {
			if _, fresh := requested[t]; fresh {
				continue
			}
			if !e.cfg.History.IsDownloaded(item.entry.Href, t) {
				continue
			}
			cell := report.Cell{Magnet: report.DownloadedPrefix}
			if magnet, ok := item.selection[t]; ok {
				cell.Magnet = report.DownloadedPrefix + magnet.URI
				cell.Size = magnet.SizeText
			}
			row.Cells[t] = cell
		}
		if len(row.Cells) == 0 {
			e.cfg.Logger.Debug("no magnets for requested buckets",
				slog.String("video", item.entry.VideoCode))
			continue
		}

		if !opts.DryRun {
			// The history record for this entry lands before the row
			// that references it.
			e.cfg.History.Merge(item.entry, phase, nil, now)
			if err := sink.Append(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) fetchDetail(ctx context.Context, base *url.URL, item *pageEntry) (catalog.Selection, error) {
	detailURL := base.ResolveReference(&url.URL{Path: item.entry.Href}).String()

	var payload []byte
	if e.cfg.Cache != nil {
		if cached, ok := e.cfg.Cache.Get(ctx, item.entry.Href); ok {
			payload = cached
		}
	}
	if payload == nil {
		result, err := e.cfg.Client.Get(ctx, detailURL, ModuleDetail)
		if err != nil {
			return nil, err
		}
		payload = result.Body
		if e.cfg.Cache != nil {
			e.cfg.Cache.Set(ctx, item.entry.Href, payload, e.cfg.CacheTTL)
		}
	}

	detail, warnings := catalog.ParseDetailPage(catalog.DecodePayload(payload))
	for _, warning := range warnings {
		e.cfg.Logger.Warn("detail parse warning",
			slog.String("video", item.entry.VideoCode), slog.String("detail", warning))
	}
	if detail.Actor != "" {
		item.entry.Actor = detail.Actor
	}
	selection, classifyWarnings := catalog.ClassifyMagnets(detail.Magnets)
	for _, warning := range classifyWarnings {
		e.cfg.Logger.Warn("magnet classify warning",
			slog.String("video", item.entry.VideoCode), slog.String("detail", warning))
	}
	return selection, nil
}

// reportSink creates the report file on the first appended row, so an
// aborted or empty run leaves nothing on disk.
type reportSink struct {
	path   string
	writer *report.Writer
}

func (s *reportSink) Append(row report.Row) error {
	if s.writer == nil {
		writer, err := report.Create(s.path)
		if err != nil {
			return err
		}
		s.writer = writer
	}
	return s.writer.Append(row)
}

func (s *reportSink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// pageURL appends the page number to the crawl URL, preserving any
// query an ad-hoc override already carries.
func pageURL(base *url.URL, page int) string {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// ExitCode maps a scraper error to the process contract: 0 success,
// 1 critical, 2 proxy-ban outage.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if domain.IsKind(err, domain.KindNoProxy) {
		return 2
	}
	return 1
}
