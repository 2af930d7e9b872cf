package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/scraper"
)

type fakeScraper struct {
	summary domain.ScrapeSummary
	err     error
}

func (f fakeScraper) Run(context.Context, scraper.Options) (domain.ScrapeSummary, error) {
	return f.summary, f.err
}

type fakeUploader struct {
	summary domain.UploadSummary
	err     error
	calls   int
}

func (f *fakeUploader) Run(context.Context, string, string) (domain.UploadSummary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeLister struct {
	torrents []qbt.TorrentInfo
	loginErr error
}

func (f fakeLister) Login(context.Context) error { return f.loginErr }

func (f fakeLister) ListRecent(context.Context, time.Time, []string) ([]qbt.TorrentInfo, error) {
	return f.torrents, nil
}

type fakeDeep struct {
	err     error
	batches [][]string
}

func (f *fakeDeep) SubmitBatch(_ context.Context, magnets []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.batches = append(f.batches, magnets)
	return "batch-1", nil
}

type captureNotifier struct {
	statuses []domain.RunStatus
}

func (c *captureNotifier) Notify(_ context.Context, status domain.RunStatus) error {
	c.statuses = append(c.statuses, status)
	return nil
}

func runWith(t *testing.T, cfg Config, opts scraper.Options) (domain.RunStatus, *captureNotifier) {
	t.Helper()
	notifier := &captureNotifier{}
	cfg.Notifier = notifier
	status := New(cfg).Run(context.Background(), opts)
	if len(notifier.statuses) != 1 {
		t.Fatalf("exactly one notification per run, got %d", len(notifier.statuses))
	}
	return status, notifier
}

func TestRunSuccess(t *testing.T) {
	upload := &fakeUploader{summary: domain.UploadSummary{Attempted: 3, Added: 3}}
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 3, EntriesDetailed: 3}},
		Uploader: upload,
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", status.Outcome, status.Cause)
	}
	if status.Outcome.ExitCode() != 0 {
		t.Fatalf("exit code: %d", status.Outcome.ExitCode())
	}
	if upload.calls != 1 {
		t.Fatal("uploader must run")
	}
}

func TestRunSuccessEmpty(t *testing.T) {
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{PagesAttempted: 4}},
		Uploader: &fakeUploader{},
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeSuccessEmpty {
		t.Fatalf("expected SUCCESS_EMPTY, got %s", status.Outcome)
	}
	if status.Outcome.ExitCode() != 0 {
		t.Fatalf("exit code: %d", status.Outcome.ExitCode())
	}
}

func TestRunProxyBanSkipsUploader(t *testing.T) {
	upload := &fakeUploader{}
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{BanEvents: 1}, err: domain.ErrNoProxyAvailable},
		Uploader: upload,
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeProxyBanned {
		t.Fatalf("expected FAILED_PROXY_BANNED, got %s", status.Outcome)
	}
	if status.Outcome.ExitCode() != 2 {
		t.Fatalf("ban outage must exit 2, got %d", status.Outcome.ExitCode())
	}
	if upload.calls != 0 {
		t.Fatal("uploader must be skipped on ban outage")
	}
}

func TestRunScrapeCriticalFailure(t *testing.T) {
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{err: domain.Ef(domain.KindNetwork, "scraper", "all pages failed")},
		Uploader: &fakeUploader{},
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeCritical {
		t.Fatalf("expected FAILED_CRITICAL, got %s", status.Outcome)
	}
	if status.Outcome.ExitCode() != 1 {
		t.Fatalf("exit code: %d", status.Outcome.ExitCode())
	}
}

func TestRunUploaderAuthFailure(t *testing.T) {
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 50, EntriesDetailed: 50}},
		Uploader: &fakeUploader{err: domain.Ef(domain.KindAuth, "qbt.login", "bad credentials")},
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeCritical {
		t.Fatalf("expected FAILED_CRITICAL, got %s", status.Outcome)
	}
	if status.Cause == "" {
		t.Fatal("auth failure must carry a cause")
	}
}

func TestRunAllAddsFailedIsCritical(t *testing.T) {
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 2, EntriesDetailed: 2}},
		Uploader: &fakeUploader{summary: domain.UploadSummary{Attempted: 2, Added: 0, Rejected: 2}},
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeCritical {
		t.Fatalf("all adds failed must be critical, got %s", status.Outcome)
	}
}

func TestRunSomeRejectionsAreFine(t *testing.T) {
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 3, EntriesDetailed: 3}},
		Uploader: &fakeUploader{summary: domain.UploadSummary{Attempted: 3, Added: 2, Rejected: 1}},
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeSuccess {
		t.Fatalf("partial rejection must stay SUCCESS, got %s", status.Outcome)
	}
}

func TestDeepStoreOffloadsOldCompleted(t *testing.T) {
	now := time.Now()
	deep := &fakeDeep{}
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 1}},
		Uploader: &fakeUploader{summary: domain.UploadSummary{Attempted: 1, Added: 1}},
		Qbt: fakeLister{torrents: []qbt.TorrentInfo{
			{Hash: "old", Progress: 1, MagnetURI: "magnet:?xt=urn:btih:old", AddedOn: now.Add(-10 * 24 * time.Hour).Unix()},
			{Hash: "new", Progress: 1, MagnetURI: "magnet:?xt=urn:btih:new", AddedOn: now.Unix()},
			{Hash: "incomplete", Progress: 0.5, MagnetURI: "magnet:?xt=urn:btih:inc", AddedOn: now.Add(-10 * 24 * time.Hour).Unix()},
		}},
		Deep:   deep,
		MinAge: 7 * 24 * time.Hour,
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %s (%s)", status.Outcome, status.Cause)
	}
	if status.DeepStore.Submitted != 1 {
		t.Fatalf("expected one offload, got %+v", status.DeepStore)
	}
	if len(deep.batches) != 1 || len(deep.batches[0]) != 1 || deep.batches[0][0] != "magnet:?xt=urn:btih:old" {
		t.Fatalf("unexpected batch: %+v", deep.batches)
	}
}

func TestDeepStoreOutageIsCritical(t *testing.T) {
	now := time.Now()
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 1}},
		Uploader: &fakeUploader{summary: domain.UploadSummary{Attempted: 1, Added: 1}},
		Qbt: fakeLister{torrents: []qbt.TorrentInfo{
			{Hash: "old", Progress: 1, MagnetURI: "magnet:?xt=urn:btih:old", AddedOn: now.Add(-10 * 24 * time.Hour).Unix()},
		}},
		Deep:   &fakeDeep{err: domain.Ef(domain.KindNetwork, "deepstore.call", "connection refused")},
		MinAge: 7 * 24 * time.Hour,
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeCritical {
		t.Fatalf("outage must be critical, got %s", status.Outcome)
	}
	if !status.DeepStore.Outage {
		t.Fatal("outage flag missing")
	}
}

func TestDeepStoreAPIErrorIsNotCritical(t *testing.T) {
	now := time.Now()
	status, _ := runWith(t, Config{
		Scraper:  fakeScraper{summary: domain.ScrapeSummary{EntriesSelected: 1}},
		Uploader: &fakeUploader{summary: domain.UploadSummary{Attempted: 1, Added: 1}},
		Qbt: fakeLister{torrents: []qbt.TorrentInfo{
			{Hash: "old", Progress: 1, MagnetURI: "magnet:?xt=urn:btih:old", AddedOn: now.Add(-10 * 24 * time.Hour).Unix()},
		}},
		Deep:   &fakeDeep{err: errors.New("deepstore /v1/batches: status 422: bad magnet")},
		MinAge: 7 * 24 * time.Hour,
	}, scraper.Options{Mode: scraper.ModeDaily})

	if status.Outcome != domain.OutcomeSuccess {
		t.Fatalf("api errors stay non-critical, got %s", status.Outcome)
	}
	if status.DeepStore.Failed != 1 {
		t.Fatalf("failure must be accounted: %+v", status.DeepStore)
	}
}
