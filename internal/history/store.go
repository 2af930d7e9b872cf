package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/lockfile"
)

const timeFormat = "2006-01-02 15:04:05"

// header is the canonical column order. The four trailing columns hold
// the first-download timestamp per torrent type, empty when never
// downloaded.
var header = []string{
	"href", "phase", "video_code", "create_date", "update_date",
	string(domain.HackedSubtitle), string(domain.HackedNoSubtitle),
	string(domain.SubtitleType), string(domain.NoSubtitle),
}

// legacy layouts carried a single download date and no per-type columns.
var legacyHeaders = [][]string{
	{"href", "video_code", "download_date"},
	{"href", "phase", "video_code", "download_date"},
}

// Record is one entry's durable history row.
type Record struct {
	Href       string
	Phase      int
	VideoCode  string
	CreateDate time.Time
	UpdateDate time.Time
	Downloaded map[domain.TorrentType]time.Time
}

// DownloadedAt returns the first-download timestamp for the type, zero
// when the column is null.
func (r Record) DownloadedAt(t domain.TorrentType) time.Time {
	return r.Downloaded[t]
}

// Store tracks every entry ever seen across runs, backed by a single
// CSV table keyed by href. Writes stay in memory until Commit, which
// rewrites the file atomically under an exclusive lock.
type Store struct {
	path    string
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	dirty   bool
}

// Open loads the table, upgrading a legacy single-column layout in
// place: the original date becomes create_date and every per-type
// column starts null.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		records: make(map[string]*Record),
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, domain.E(domain.KindIO, "history.open", err)
	}
	defer f.Close()
	if err := lockfile.Lock(f); err != nil {
		return nil, domain.E(domain.KindIO, "history.open", err)
	}
	defer func() { _ = lockfile.Unlock(f) }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, domain.E(domain.KindIO, "history.open", err)
	}
	if len(rows) == 0 {
		return s, nil
	}

	if isLegacyHeader(rows[0]) {
		s.loadLegacy(rows)
		s.dirty = true // persist the upgraded layout on next commit
		return s, nil
	}
	for i, row := range rows {
		if i == 0 && row[0] == header[0] {
			continue
		}
		record, ok := parseRow(row)
		if !ok {
			continue
		}
		s.insert(record)
	}
	return s, nil
}

func isLegacyHeader(row []string) bool {
	for _, legacy := range legacyHeaders {
		if len(row) != len(legacy) {
			continue
		}
		match := true
		for i := range legacy {
			if row[i] != legacy[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (s *Store) loadLegacy(rows [][]string) {
	hasPhase := len(rows[0]) == 4
	for _, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		record := &Record{
			Href:       row[0],
			Phase:      1,
			Downloaded: make(map[domain.TorrentType]time.Time),
		}
		dateField := row[len(row)-1]
		if hasPhase {
			if phase, err := strconv.Atoi(row[1]); err == nil {
				record.Phase = phase
			}
			record.VideoCode = row[2]
		} else {
			record.VideoCode = row[1]
		}
		if seen, err := time.Parse(timeFormat, dateField); err == nil {
			record.CreateDate = seen
			record.UpdateDate = seen
		}
		s.insert(record)
	}
}

func parseRow(row []string) (*Record, bool) {
	if len(row) < len(header) {
		return nil, false
	}
	record := &Record{
		Href:       row[0],
		VideoCode:  row[2],
		Downloaded: make(map[domain.TorrentType]time.Time),
	}
	if phase, err := strconv.Atoi(row[1]); err == nil {
		record.Phase = phase
	}
	if created, err := time.Parse(timeFormat, row[3]); err == nil {
		record.CreateDate = created
	}
	if updated, err := time.Parse(timeFormat, row[4]); err == nil {
		record.UpdateDate = updated
	}
	for i, t := range domain.TorrentTypes {
		value := row[5+i]
		if value == "" {
			continue
		}
		if ts, err := time.Parse(timeFormat, value); err == nil {
			record.Downloaded[t] = ts
		}
	}
	return record, true
}

func (s *Store) insert(record *Record) {
	if _, exists := s.records[record.Href]; !exists {
		s.order = append(s.order, record.Href)
	}
	s.records[record.Href] = record
}

// Lookup returns a copy of the entry's record.
func (s *Store) Lookup(href string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[href]
	if !ok {
		return Record{}, false
	}
	return copyRecord(record), true
}

// ShouldProcess returns the torrent types the scraper should still try
// to obtain for the entry in the given phase. With ignoreHistory set,
// all four types are returned regardless of past runs.
func (s *Store) ShouldProcess(entry domain.Entry, phase int, ignoreHistory bool) []domain.TorrentType {
	if ignoreHistory {
		return append([]domain.TorrentType(nil), domain.TorrentTypes...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, known := s.records[entry.Href]
	switch phase {
	case 1:
		wanted := []domain.TorrentType{domain.HackedSubtitle, domain.SubtitleType}
		if !known {
			return wanted
		}
		missing := make([]domain.TorrentType, 0, len(wanted))
		for _, t := range wanted {
			if record.Downloaded[t].IsZero() {
				missing = append(missing, t)
			}
		}
		return missing
	case 2:
		if !known {
			return []domain.TorrentType{domain.HackedNoSubtitle}
		}
		// Upgrade path: the plain variant is on disk and the crack
		// variant has not been fetched yet.
		if !record.Downloaded[domain.NoSubtitle].IsZero() && record.Downloaded[domain.HackedNoSubtitle].IsZero() {
			return []domain.TorrentType{domain.HackedNoSubtitle}
		}
		return nil
	default:
		return nil
	}
}

// Merge records the entry and stamps the given types. A type column is
// written once and never overwritten; update_date always advances.
func (s *Store) Merge(entry domain.Entry, phase int, types []domain.TorrentType, timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[entry.Href]
	if !exists {
		record = &Record{
			Href:       entry.Href,
			Phase:      phase,
			VideoCode:  entry.VideoCode,
			CreateDate: timestamp,
			Downloaded: make(map[domain.TorrentType]time.Time),
		}
		s.insert(record)
	}
	for _, t := range types {
		if !t.Valid() {
			continue
		}
		if record.Downloaded[t].IsZero() {
			record.Downloaded[t] = timestamp
		}
	}
	record.UpdateDate = timestamp
	s.dirty = true
}

// IsDownloaded reports whether the type's column is non-null.
func (s *Store) IsDownloaded(href string, t domain.TorrentType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[href]
	if !ok {
		return false
	}
	return !record.Downloaded[t].IsZero()
}

// MarkDownloaded is Merge plus an immediate durable commit; the
// uploader calls it after every successful add.
func (s *Store) MarkDownloaded(entry domain.Entry, phase int, types []domain.TorrentType, timestamp time.Time) error {
	s.Merge(entry, phase, types, timestamp)
	return s.Commit()
}

// Commit rewrites the table atomically (write temp, fsync, rename)
// under an exclusive lock. A clean store is a no-op.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.E(domain.KindIO, "history.commit", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return domain.E(domain.KindIO, "history.commit", err)
	}
	defer os.Remove(tmp.Name())

	if err := lockfile.Lock(tmp); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "history.commit", err)
	}
	writer := csv.NewWriter(tmp)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "history.commit", err)
	}
	for _, href := range s.order {
		record := s.records[href]
		row := []string{
			record.Href,
			strconv.Itoa(record.Phase),
			record.VideoCode,
			formatTime(record.CreateDate),
			formatTime(record.UpdateDate),
		}
		for _, t := range domain.TorrentTypes {
			row = append(row, formatTime(record.Downloaded[t]))
		}
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return domain.E(domain.KindIO, "history.commit", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "history.commit", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "history.commit", fmt.Errorf("sync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return domain.E(domain.KindIO, "history.commit", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return domain.E(domain.KindIO, "history.commit", err)
	}
	s.dirty = false
	return nil
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func copyRecord(record *Record) Record {
	clone := *record
	clone.Downloaded = make(map[domain.TorrentType]time.Time, len(record.Downloaded))
	for t, ts := range record.Downloaded {
		clone.Downloaded[t] = ts
	}
	return clone
}
