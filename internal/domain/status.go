package domain

import "time"

// Outcome is the final classification of a pipeline run.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomeSuccessEmpty Outcome = "SUCCESS_EMPTY"
	OutcomeCritical     Outcome = "FAILED_CRITICAL"
	OutcomeProxyBanned  Outcome = "FAILED_PROXY_BANNED"
)

// ExitCode maps an outcome to the process exit code contract:
// 0 success, 1 generic critical, 2 proxy ban outage.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess, OutcomeSuccessEmpty:
		return 0
	case OutcomeProxyBanned:
		return 2
	default:
		return 1
	}
}

// ScrapeSummary is the scraper's per-run error accounting.
type ScrapeSummary struct {
	PagesAttempted  int
	PagesFailed     int
	EntriesSelected int
	EntriesDetailed int
	EntriesFailed   int
	BanEvents       int
	ReportPath      string
	Partial         bool // run budget exhausted, stopped at a page boundary
}

// UploadSummary is the uploader's per-run accounting.
type UploadSummary struct {
	Attempted         int
	Added             int
	Rejected          int
	AlreadyDownloaded int
}

// DeepStoreSummary is the deep-storage bridge step's accounting.
type DeepStoreSummary struct {
	Submitted int
	Failed    int
	Outage    bool // service unreachable, as opposed to per-item API errors
}

// ProxyStat is a point-in-time view of one pool entry, included in
// RunStatus so the notification carries the pool's health.
type ProxyStat struct {
	Name                string
	Host                string
	ConsecutiveFailures int
	Banned              bool
	CooldownUntil       time.Time // zero when not cooling
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	TotalSuccess        int64
	TotalFailure        int64
}

// BanRecord is one durable ban ledger row.
type BanRecord struct {
	ProxyName   string
	ProxyHost   string
	BannedAt    time.Time
	ExpiresAt   time.Time
	Reason      string
	Description string
}

// Active reports whether the ban is still in force at now. The expiry
// boundary is exclusive: a record expiring exactly now is not banned.
func (b BanRecord) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// RunStatus is the single per-run outcome object the orchestrator emits.
type RunStatus struct {
	RunID      string
	Mode       string // daily | adhoc
	Outcome    Outcome
	Cause      string // human summary of the failing condition, empty on success
	StartedAt  time.Time
	FinishedAt time.Time
	Scrape     ScrapeSummary
	Upload     UploadSummary
	DeepStore  DeepStoreSummary
	ProxyStats []ProxyStat
	BanDelta   []BanRecord // ledger rows appended during this run
	LogExcerpt []string    // warn+ lines captured during the run
}
