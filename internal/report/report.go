package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
)

// DownloadedPrefix marks a magnet cell the uploader has already pushed
// to the torrent client. The trailing space is part of the marker.
const DownloadedPrefix = "[DOWNLOADED] "

// Cell is one torrent-type column pair: the magnet URI (possibly
// prefixed) and its displayed size.
type Cell struct {
	Magnet string
	Size   string
}

// Downloaded reports whether the cell carries the marker.
func (c Cell) Downloaded() bool {
	return strings.HasPrefix(c.Magnet, DownloadedPrefix)
}

// URI returns the magnet URI with the marker stripped.
func (c Cell) URI() string {
	return strings.TrimPrefix(c.Magnet, DownloadedPrefix)
}

// Row is one selected entry in a run-scoped report.
type Row struct {
	Href         string
	VideoCode    string
	Title        string
	Page         int
	Actor        string
	Rating       float64 // -1 when unknown
	CommentCount int     // -1 when unknown
	Cells        map[domain.TorrentType]Cell
}

var header = buildHeader()

func buildHeader() []string {
	columns := []string{"href", "video_code", "title", "page", "actor", "rating", "comments"}
	for _, t := range domain.TorrentTypes {
		columns = append(columns, string(t)+"_magnet", string(t)+"_size")
	}
	return columns
}

// NewRow builds a report row for an entry with the selected magnets.
func NewRow(entry domain.Entry, selection map[domain.TorrentType]domain.Magnet) Row {
	row := Row{
		Href:         entry.Href,
		VideoCode:    entry.VideoCode,
		Title:        entry.Title,
		Page:         entry.Page,
		Actor:        entry.Actor,
		Rating:       entry.Rating,
		CommentCount: entry.CommentCount,
		Cells:        make(map[domain.TorrentType]Cell, len(selection)),
	}
	for t, magnet := range selection {
		size := magnet.SizeText
		if size == "" && magnet.SizeBytes > 0 {
			size = humanize.IBytes(uint64(magnet.SizeBytes))
		}
		row.Cells[t] = Cell{Magnet: magnet.URI, Size: size}
	}
	return row
}

// Writer appends rows to a run-scoped report as they are produced.
type Writer struct {
	f   *os.File
	csv *csv.Writer
}

// Create opens a fresh report file and writes the header row.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.E(domain.KindIO, "report.create", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, domain.E(domain.KindIO, "report.create", err)
	}
	w := &Writer{f: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(header); err != nil {
		f.Close()
		return nil, domain.E(domain.KindIO, "report.create", err)
	}
	w.csv.Flush()
	return w, w.csv.Error()
}

// Append writes one row and flushes so a crash loses at most the row in
// flight.
func (w *Writer) Append(row Row) error {
	if err := w.csv.Write(encodeRow(row)); err != nil {
		return domain.E(domain.KindIO, "report.append", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return domain.E(domain.KindIO, "report.append", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.f.Close()
		return domain.E(domain.KindIO, "report.close", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return domain.E(domain.KindIO, "report.close", err)
	}
	return w.f.Close()
}

func encodeRow(row Row) []string {
	record := []string{
		row.Href,
		row.VideoCode,
		row.Title,
		strconv.Itoa(row.Page),
		row.Actor,
		formatRating(row.Rating),
		formatCount(row.CommentCount),
	}
	for _, t := range domain.TorrentTypes {
		cell := row.Cells[t]
		record = append(record, cell.Magnet, cell.Size)
	}
	return record
}

// ReadAll loads a report produced by Writer.
func ReadAll(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.E(domain.KindIO, "report.read", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, domain.E(domain.KindIO, "report.read", err)
	}
	rows := make([]Row, 0, len(records))
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == header[0] {
			continue
		}
		if len(record) < len(header) {
			continue
		}
		row := Row{
			Href:      record[0],
			VideoCode: record[1],
			Title:     record[2],
			Actor:     record[4],
			Cells:     make(map[domain.TorrentType]Cell, len(domain.TorrentTypes)),
		}
		row.Page, _ = strconv.Atoi(record[3])
		row.Rating = parseRating(record[5])
		row.CommentCount = parseCount(record[6])
		for j, t := range domain.TorrentTypes {
			magnet := record[7+2*j]
			size := record[8+2*j]
			if magnet == "" && size == "" {
				continue
			}
			row.Cells[t] = Cell{Magnet: magnet, Size: size}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Rewrite replaces the report atomically via write-temp-then-rename so
// a reader never observes a partial file.
func Rewrite(path string, rows []Row) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return domain.E(domain.KindIO, "report.rewrite", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "report.rewrite", err)
	}
	for _, row := range rows {
		if err := writer.Write(encodeRow(row)); err != nil {
			tmp.Close()
			return domain.E(domain.KindIO, "report.rewrite", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "report.rewrite", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.E(domain.KindIO, "report.rewrite", fmt.Errorf("sync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return domain.E(domain.KindIO, "report.rewrite", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return domain.E(domain.KindIO, "report.rewrite", err)
	}
	return nil
}

// DailyPath places a run's report under the dated daily folder.
func DailyPath(baseDir string, now time.Time, runID string) string {
	return filepath.Join(baseDir, "DailyReport", now.Format("2006"), now.Format("01"),
		now.Format("20060102")+"-"+runID+".csv")
}

// AdhocPath places a run's report under the ad-hoc folder.
func AdhocPath(baseDir string, now time.Time, runID string) string {
	return filepath.Join(baseDir, "AdHoc", now.Format("2006"), now.Format("01"),
		now.Format("20060102")+"-"+runID+".csv")
}

func formatRating(rating float64) string {
	if rating < 0 {
		return ""
	}
	return strconv.FormatFloat(rating, 'f', 1, 64)
}

func formatCount(count int) string {
	if count < 0 {
		return ""
	}
	return strconv.Itoa(count)
}

func parseRating(raw string) float64 {
	if raw == "" {
		return -1
	}
	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return -1
	}
	return rating
}

func parseCount(raw string) int {
	if raw == "" {
		return -1
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return count
}
