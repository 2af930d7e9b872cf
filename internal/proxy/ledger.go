package proxy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/lockfile"
)

const ledgerTimeFormat = "2006-01-02 15:04:05"

var ledgerHeader = []string{"proxy_name", "proxy_host", "banned_at", "expires_at", "reason", "description"}

// Ledger is the durable ban record table. Rows are only ever appended;
// expired rows stay as history and are filtered out on load.
type Ledger struct {
	path string
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

// Load reads every ledger row. Missing file means an empty ledger.
func (l *Ledger) Load() ([]domain.BanRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.E(domain.KindIO, "ledger.load", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records := make([]domain.BanRecord, 0, 8)
	first := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.E(domain.KindIO, "ledger.load", err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == ledgerHeader[0] {
				continue
			}
		}
		if len(row) < 6 {
			continue
		}
		bannedAt, err1 := time.Parse(ledgerTimeFormat, row[2])
		expiresAt, err2 := time.Parse(ledgerTimeFormat, row[3])
		if err1 != nil || err2 != nil {
			continue
		}
		records = append(records, domain.BanRecord{
			ProxyName:   row[0],
			ProxyHost:   row[1],
			BannedAt:    bannedAt,
			ExpiresAt:   expiresAt,
			Reason:      row[4],
			Description: row[5],
		})
	}
	return records, nil
}

// Append writes one record under an exclusive file lock so concurrent
// readers see either no new row or the complete row.
func (l *Ledger) Append(record domain.BanRecord) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	defer f.Close()
	if err := lockfile.Lock(f); err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	defer func() { _ = lockfile.Unlock(f) }()

	info, err := f.Stat()
	if err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(ledgerHeader); err != nil {
			return domain.E(domain.KindIO, "ledger.append", err)
		}
	}
	row := []string{
		record.ProxyName,
		record.ProxyHost,
		record.BannedAt.Format(ledgerTimeFormat),
		record.ExpiresAt.Format(ledgerTimeFormat),
		record.Reason,
		record.Description,
	}
	if err := writer.Write(row); err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return domain.E(domain.KindIO, "ledger.append", err)
	}
	if err := f.Sync(); err != nil {
		return domain.E(domain.KindIO, "ledger.append", fmt.Errorf("sync: %w", err))
	}
	return nil
}
