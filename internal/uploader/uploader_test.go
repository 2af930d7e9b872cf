package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/history"
	"github.com/TongWu/JAVDB-AutoSpider/internal/qbt"
	"github.com/TongWu/JAVDB-AutoSpider/internal/report"
)

type fakeClient struct {
	loginErr   error
	addErr     map[string]error // keyed by magnet URI
	loginCalls int
	adds       []string
	categories []string
}

func (f *fakeClient) Login(context.Context) error {
	f.loginCalls++
	return f.loginErr
}

func (f *fakeClient) Add(_ context.Context, magnet string, opts qbt.AddOptions) error {
	if err, ok := f.addErr[magnet]; ok {
		return err
	}
	f.adds = append(f.adds, magnet)
	f.categories = append(f.categories, opts.Category)
	return nil
}

const (
	magnetA = "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	magnetB = "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func writeReport(t *testing.T, dir string, rows ...report.Row) string {
	t.Helper()
	path := filepath.Join(dir, "run.csv")
	writer, err := report.Create(path)
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	for _, row := range rows {
		if err := writer.Append(row); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func rowWith(href, code string, cells map[domain.TorrentType]report.Cell) report.Row {
	return report.Row{
		Href: href, VideoCode: code, Title: code, Page: 1,
		Rating: -1, CommentCount: -1, Cells: cells,
	}
}

func newUploader(t *testing.T, dir string, client TorrentClient) (*Uploader, *history.Store) {
	t.Helper()
	store, err := history.Open(filepath.Join(dir, "history.csv"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	up := New(client, store, Config{
		CategoryDaily: "daily",
		CategoryAdhoc: "adhoc",
		SavePath:      "/downloads",
		AutoStart:     true,
	}, nil)
	return up, store
}

func TestRunAddsAndMarks(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.HackedSubtitle: {Magnet: magnetA, Size: "5GB"},
		}),
		rowWith("/v/b", "ABC-002", map[domain.TorrentType]report.Cell{
			domain.HackedNoSubtitle: {Magnet: magnetB, Size: "4GB"},
		}),
	)
	client := &fakeClient{}
	up, store := newUploader(t, dir, client)

	summary, err := up.Run(context.Background(), path, "daily")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Attempted != 2 || summary.Added != 2 || summary.Rejected != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if client.loginCalls != 1 {
		t.Fatalf("login must be cached, got %d calls", client.loginCalls)
	}
	for _, category := range client.categories {
		if category != "daily" {
			t.Fatalf("unexpected category: %s", category)
		}
	}
	if !store.IsDownloaded("/v/a", domain.HackedSubtitle) {
		t.Fatal("history not marked")
	}

	// Every pushed cell now carries the marker iff its column is set.
	rows, err := report.ReadAll(path)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	for _, row := range rows {
		for torrentType, cell := range row.Cells {
			if cell.Downloaded() != store.IsDownloaded(row.Href, torrentType) {
				t.Fatalf("marker/history mismatch on %s %s", row.Href, torrentType)
			}
		}
	}
}

// A second pass over the same report performs no further adds and leaves
// the file stable.
func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.HackedSubtitle: {Magnet: magnetA, Size: "5GB"},
		}),
	)
	client := &fakeClient{}
	up, _ := newUploader(t, dir, client)

	if _, err := up.Run(context.Background(), path, "daily"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstBytes, _ := os.ReadFile(path)

	summary, err := up.Run(context.Background(), path, "daily")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Attempted != 0 || summary.Added != 0 {
		t.Fatalf("second run must be a no-op, got %+v", summary)
	}
	if len(client.adds) != 1 {
		t.Fatalf("expected a single add overall, got %d", len(client.adds))
	}
	secondBytes, _ := os.ReadFile(path)
	if string(firstBytes) != string(secondBytes) {
		t.Fatal("report changed on idempotent rerun")
	}
}

// Cells already stamped in history are marked without calling add.
func TestRunMarksKnownDownloads(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.SubtitleType: {Magnet: magnetA, Size: "5GB"},
		}),
	)
	client := &fakeClient{}
	up, store := newUploader(t, dir, client)
	if err := store.MarkDownloaded(domain.Entry{Href: "/v/a", VideoCode: "ABC-001"}, 1,
		[]domain.TorrentType{domain.SubtitleType}, time.Now()); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	summary, err := up.Run(context.Background(), path, "daily")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.AlreadyDownloaded != 1 || summary.Attempted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(client.adds) != 0 {
		t.Fatal("known download must never reach the client")
	}
	rows, _ := report.ReadAll(path)
	if !rows[0].Cells[domain.SubtitleType].Downloaded() {
		t.Fatal("marker missing")
	}
}

// An empty scrape never creates a report; the uploader treats the
// missing file as nothing to do.
func TestRunMissingReportIsEmpty(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{}
	up, _ := newUploader(t, dir, client)

	summary, err := up.Run(context.Background(), filepath.Join(dir, "absent.csv"), "daily")
	if err != nil {
		t.Fatalf("missing report must not fail the run: %v", err)
	}
	if summary != (domain.UploadSummary{}) {
		t.Fatalf("expected an empty summary, got %+v", summary)
	}
	if client.loginCalls != 0 {
		t.Fatal("no login expected")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "absent.csv")); !os.IsNotExist(statErr) {
		t.Fatal("uploader must not create the report")
	}
}

func TestRunRejectionIsNotCritical(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.HackedSubtitle: {Magnet: magnetA, Size: "5GB"},
		}),
		rowWith("/v/b", "ABC-002", map[domain.TorrentType]report.Cell{
			domain.HackedNoSubtitle: {Magnet: magnetB, Size: "4GB"},
		}),
	)
	client := &fakeClient{addErr: map[string]error{
		magnetA: fmt.Errorf("%w: duplicate", qbt.ErrRejected),
	}}
	up, store := newUploader(t, dir, client)

	summary, err := up.Run(context.Background(), path, "daily")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Rejected != 1 || summary.Added != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if store.IsDownloaded("/v/a", domain.HackedSubtitle) {
		t.Fatal("rejected torrent must not be marked downloaded")
	}
	rows, _ := report.ReadAll(path)
	if rows[0].Cells[domain.HackedSubtitle].Downloaded() {
		t.Fatal("rejected cell must keep its plain magnet for retry")
	}
}

func TestRunAuthFailureAborts(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.HackedSubtitle: {Magnet: magnetA, Size: "5GB"},
		}),
	)
	client := &fakeClient{loginErr: domain.Ef(domain.KindAuth, "qbt.login", "bad credentials")}
	up, store := newUploader(t, dir, client)

	summary, err := up.Run(context.Background(), path, "daily")
	if !domain.IsKind(err, domain.KindAuth) {
		t.Fatalf("expected AUTH, got %v", err)
	}
	if summary.Added != 0 {
		t.Fatalf("nothing can be added, got %+v", summary)
	}
	if store.IsDownloaded("/v/a", domain.HackedSubtitle) {
		t.Fatal("history must not advance on auth failure")
	}
	// The report survives for manual retry.
	rows, readErr := report.ReadAll(path)
	if readErr != nil || len(rows) != 1 {
		t.Fatalf("report lost: %v %d", readErr, len(rows))
	}
	if rows[0].Cells[domain.HackedSubtitle].Downloaded() {
		t.Fatal("nothing was pushed, no marker expected")
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeReport(t, dir,
		rowWith("/v/a", "ABC-001", map[domain.TorrentType]report.Cell{
			domain.HackedSubtitle: {Magnet: magnetA, Size: "5GB"},
		}),
	)
	before, _ := os.ReadFile(path)

	client := &fakeClient{}
	store, err := history.Open(filepath.Join(dir, "history.csv"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	up := New(client, store, Config{CategoryDaily: "daily", DryRun: true}, nil)

	summary, err := up.Run(context.Background(), path, "daily")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Attempted != 1 {
		t.Fatalf("dry run still accounts work: %+v", summary)
	}
	if len(client.adds) != 0 || client.loginCalls != 0 {
		t.Fatal("dry run must not touch the client")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("dry run must not rewrite the report")
	}
	if store.IsDownloaded("/v/a", domain.HackedSubtitle) {
		t.Fatal("dry run must not mark history")
	}
}
