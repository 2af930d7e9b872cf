package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

func testEntry(href, code string) domain.Entry {
	return domain.Entry{Href: href, VideoCode: code}
}

func mustOpen(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store
}

func TestMergeAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	store := mustOpen(t, path)

	first := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	store.Merge(testEntry("/v/a", "ABC-001"), 1, []domain.TorrentType{domain.SubtitleType}, first)
	store.Merge(testEntry("/v/a", "ABC-001"), 1, []domain.TorrentType{domain.SubtitleType, domain.HackedSubtitle}, later)

	record, ok := store.Lookup("/v/a")
	if !ok {
		t.Fatal("record missing")
	}
	if !record.CreateDate.Equal(first) {
		t.Fatalf("create date overwritten: %v", record.CreateDate)
	}
	if !record.UpdateDate.Equal(later) {
		t.Fatalf("update date not advanced: %v", record.UpdateDate)
	}
	// First write wins; the second merge must not move the timestamp.
	if !record.DownloadedAt(domain.SubtitleType).Equal(first) {
		t.Fatalf("subtitle timestamp overwritten: %v", record.DownloadedAt(domain.SubtitleType))
	}
	if !record.DownloadedAt(domain.HackedSubtitle).Equal(later) {
		t.Fatalf("hacked_subtitle timestamp wrong: %v", record.DownloadedAt(domain.HackedSubtitle))
	}
	if record.CreateDate.After(record.UpdateDate) {
		t.Fatal("create_date must never exceed update_date")
	}
}

func TestShouldProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	store := mustOpen(t, path)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	fresh := testEntry("/v/new", "NEW-001")
	if got := store.ShouldProcess(fresh, 1, false); len(got) != 2 {
		t.Fatalf("new entry phase 1: %v", got)
	}
	if got := store.ShouldProcess(fresh, 2, false); len(got) != 1 || got[0] != domain.HackedNoSubtitle {
		t.Fatalf("new entry phase 2: %v", got)
	}

	// Known entry with subtitle filled and hacked_subtitle missing.
	known := testEntry("/v/known", "KNW-001")
	store.Merge(known, 1, []domain.TorrentType{domain.SubtitleType}, now)
	got := store.ShouldProcess(known, 1, false)
	if len(got) != 1 || got[0] != domain.HackedSubtitle {
		t.Fatalf("known entry phase 1: %v", got)
	}

	// Phase 2 upgrade path needs no_subtitle present and the crack
	// variant absent.
	upgrade := testEntry("/v/upgrade", "UPG-001")
	store.Merge(upgrade, 2, []domain.TorrentType{domain.NoSubtitle}, now)
	got = store.ShouldProcess(upgrade, 2, false)
	if len(got) != 1 || got[0] != domain.HackedNoSubtitle {
		t.Fatalf("upgrade path: %v", got)
	}
	store.Merge(upgrade, 2, []domain.TorrentType{domain.HackedNoSubtitle}, now)
	if got := store.ShouldProcess(upgrade, 2, false); len(got) != 0 {
		t.Fatalf("completed upgrade must return empty: %v", got)
	}

	// Fully recorded entries still return all four with the override.
	if got := store.ShouldProcess(upgrade, 2, true); len(got) != len(domain.TorrentTypes) {
		t.Fatalf("ignore-history override: %v", got)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	store := mustOpen(t, path)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	store.Merge(testEntry("/v/a", "ABC-001"), 1, []domain.TorrentType{domain.SubtitleType}, now)
	store.Merge(testEntry("/v/b", "ABC-002"), 2, []domain.TorrentType{domain.HackedNoSubtitle}, now)
	if err := store.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	firstBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	reloaded := mustOpen(t, path)
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", reloaded.Len())
	}
	record, _ := reloaded.Lookup("/v/a")
	if !record.DownloadedAt(domain.SubtitleType).Equal(now) {
		t.Fatalf("timestamp lost: %v", record.DownloadedAt(domain.SubtitleType))
	}
	if record.Phase != 1 || record.VideoCode != "ABC-001" {
		t.Fatalf("record fields lost: %+v", record)
	}

	// Write-back without modification is byte identical.
	reloaded.dirty = true
	if err := reloaded.Commit(); err != nil {
		t.Fatalf("recommit: %v", err)
	}
	secondBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if string(firstBytes) != string(secondBytes) {
		t.Fatal("round-trip is not byte identical")
	}
}

func TestLegacyMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	legacy := "href,video_code,download_date\n" +
		"/v/a,ABC-001,2026-06-01 09:00:00\n" +
		"/v/b,ABC-002,2026-06-02 09:00:00\n"
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store := mustOpen(t, path)
	if store.Len() != 2 {
		t.Fatalf("expected 2 migrated records, got %d", store.Len())
	}
	record, ok := store.Lookup("/v/a")
	if !ok {
		t.Fatal("migrated record missing")
	}
	wantSeen := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	if !record.CreateDate.Equal(wantSeen) {
		t.Fatalf("first-seen date not preserved: %v", record.CreateDate)
	}
	for _, torrentType := range domain.TorrentTypes {
		if !record.DownloadedAt(torrentType).IsZero() {
			t.Fatalf("migrated type column must start null: %s", torrentType)
		}
	}

	// The upgrade persists in the new layout.
	if err := store.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	upgraded := mustOpen(t, path)
	record, _ = upgraded.Lookup("/v/b")
	if record.VideoCode != "ABC-002" {
		t.Fatalf("migrated record lost on rewrite: %+v", record)
	}
}

func TestIsDownloadedAndMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	store := mustOpen(t, path)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

	if store.IsDownloaded("/v/a", domain.SubtitleType) {
		t.Fatal("unknown entry cannot be downloaded")
	}
	if err := store.MarkDownloaded(testEntry("/v/a", "ABC-001"), 1, []domain.TorrentType{domain.SubtitleType}, now); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !store.IsDownloaded("/v/a", domain.SubtitleType) {
		t.Fatal("mark did not stick")
	}
	if store.IsDownloaded("/v/a", domain.HackedSubtitle) {
		t.Fatal("unrelated column must stay null")
	}

	// MarkDownloaded commits durably.
	reloaded := mustOpen(t, path)
	if !reloaded.IsDownloaded("/v/a", domain.SubtitleType) {
		t.Fatal("mark not persisted")
	}
}
