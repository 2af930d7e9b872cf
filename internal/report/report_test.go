package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

func sampleRow() Row {
	entry := domain.Entry{
		Href:         "/v/abc001",
		VideoCode:    "ABC-001",
		Title:        "Some, \"quoted\" title",
		Page:         2,
		Actor:        "Some Actor",
		Rating:       4.5,
		CommentCount: 120,
	}
	selection := map[domain.TorrentType]domain.Magnet{
		domain.HackedSubtitle: {
			URI:      "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			SizeText: "5.46GB",
		},
	}
	return NewRow(entry, selection)
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	row := sampleRow()
	if err := writer.Append(row); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0]
	if got.Href != row.Href || got.VideoCode != row.VideoCode || got.Title != row.Title {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.Page != 2 || got.Rating != 4.5 || got.CommentCount != 120 {
		t.Fatalf("numeric fields lost: %+v", got)
	}
	cell, ok := got.Cells[domain.HackedSubtitle]
	if !ok {
		t.Fatal("magnet cell missing")
	}
	if cell.Downloaded() {
		t.Fatal("fresh cell must not carry the marker")
	}
	if cell.Size != "5.46GB" {
		t.Fatalf("size lost: %q", cell.Size)
	}
	if _, ok := got.Cells[domain.SubtitleType]; ok {
		t.Fatal("absent bucket must stay absent, not empty")
	}
}

func TestDownloadedMarker(t *testing.T) {
	cell := Cell{Magnet: DownloadedPrefix + "magnet:?xt=urn:btih:abc"}
	if !cell.Downloaded() {
		t.Fatal("marker not detected")
	}
	if cell.URI() != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("URI must strip the marker: %q", cell.URI())
	}
	if !strings.HasSuffix(DownloadedPrefix, " ") {
		t.Fatal("the marker carries a trailing space")
	}
}

func TestRewriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := writer.Append(sampleRow()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cell := rows[0].Cells[domain.HackedSubtitle]
	cell.Magnet = DownloadedPrefix + cell.Magnet
	rows[0].Cells[domain.HackedSubtitle] = cell
	if err := Rewrite(path, rows); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	reread, err := ReadAll(path)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if !reread[0].Cells[domain.HackedSubtitle].Downloaded() {
		t.Fatal("marker lost on rewrite")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the report file, found %d entries", len(entries))
	}
}

func TestRewriteStableBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	writer, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := writer.Append(sampleRow()); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, _ := ReadAll(path)
	if err := Rewrite(path, rows); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	first, _ := os.ReadFile(path)

	rows, _ = ReadAll(path)
	if err := Rewrite(path, rows); err != nil {
		t.Fatalf("second rewrite: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Fatal("rewrite is not stable byte-for-byte")
	}
}

func TestRunPaths(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	daily := DailyPath("reports", now, "run1")
	if daily != filepath.Join("reports", "DailyReport", "2026", "07", "20260731-run1.csv") {
		t.Fatalf("unexpected daily path: %s", daily)
	}
	adhoc := AdhocPath("reports", now, "run1")
	if adhoc != filepath.Join("reports", "AdHoc", "2026", "07", "20260731-run1.csv") {
		t.Fatalf("unexpected adhoc path: %s", adhoc)
	}
}
