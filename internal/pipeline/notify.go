package pipeline

import (
	"context"
	"log/slog"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// Notifier delivers the run status to operators. The mail transport is
// an external collaborator; the in-repo implementation reports through
// the structured log.
type Notifier interface {
	Notify(ctx context.Context, status domain.RunStatus) error
}

// Publisher pushes intermediate artifacts (report, history) to an
// external version-control collaborator so operators can watch progress
// mid-run. Failures are never critical.
type Publisher interface {
	Publish(ctx context.Context, paths []string) error
}

// NopPublisher is the default when no VCS integration is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []string) error { return nil }

// LogNotifier writes the status summary to the logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, status domain.RunStatus) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("run status",
		slog.String("runId", status.RunID),
		slog.String("mode", status.Mode),
		slog.String("outcome", string(status.Outcome)),
		slog.String("cause", status.Cause),
		slog.Int("pagesAttempted", status.Scrape.PagesAttempted),
		slog.Int("pagesFailed", status.Scrape.PagesFailed),
		slog.Int("entriesSelected", status.Scrape.EntriesSelected),
		slog.Int("entriesDetailed", status.Scrape.EntriesDetailed),
		slog.Int("banEvents", status.Scrape.BanEvents),
		slog.Int("added", status.Upload.Added),
		slog.Int("rejected", status.Upload.Rejected),
		slog.Int("deepSubmitted", status.DeepStore.Submitted),
		slog.Int("newBans", len(status.BanDelta)),
	)
	return nil
}
