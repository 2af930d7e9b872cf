package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TongWu/JAVDB-AutoSpider/internal/domain"
	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
)

// Mode selects the pool's member strategy.
type Mode string

const (
	ModeSingle Mode = "single"
	ModePool   Mode = "pool"
)

// Entry is one configured proxy.
type Entry struct {
	Name string
	URL  *url.URL
}

// Config describes the pool. Modules names the subsystems that route
// through the pool; everything else connects directly.
type Config struct {
	Mode        Mode
	Entries     []Entry
	MaxFailures int
	Cooldown    time.Duration
	Modules     []string
}

type memberState struct {
	Entry
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastUsedAt          time.Time
	cooldownUntil       time.Time
	totalSuccess        int64
	totalFailure        int64
}

func (m *memberState) cooling(now time.Time) bool {
	// Exclusive boundary: expiry equal to now means available again.
	return m.cooldownUntil.After(now)
}

// Pool hands out proxies, tracks per-member health and persists bans to
// the ledger. All state is guarded by a single mutex; operations never
// perform I/O beyond the ledger append at the moment of ban.
type Pool struct {
	mu          sync.Mutex
	mode        Mode
	members     []*memberState
	maxFailures int
	cooldown    time.Duration
	modules     map[string]bool
	allModules  bool
	ledger      *Ledger
	delta       []domain.BanRecord
	now         func() time.Time
}

// New builds a pool and replays the ledger: members whose most recent
// ban has not expired start in cooldown.
func New(cfg Config, ledger *Ledger) (*Pool, error) {
	if len(cfg.Entries) == 0 {
		return nil, fmt.Errorf("proxy pool: no entries configured")
	}
	if cfg.Mode != ModeSingle && cfg.Mode != ModePool {
		return nil, fmt.Errorf("proxy pool: unknown mode %q", cfg.Mode)
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 8 * 24 * time.Hour
	}

	p := &Pool{
		mode:        cfg.Mode,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		modules:     make(map[string]bool, len(cfg.Modules)),
		ledger:      ledger,
		now:         time.Now,
	}
	for _, module := range cfg.Modules {
		name := strings.ToLower(strings.TrimSpace(module))
		if name == "" {
			continue
		}
		if name == "all" {
			p.allModules = true
		}
		p.modules[name] = true
	}
	for _, entry := range cfg.Entries {
		p.members = append(p.members, &memberState{Entry: entry})
		metrics.ProxyAvailable.WithLabelValues(entry.Name).Set(1)
	}

	if ledger != nil {
		records, err := ledger.Load()
		if err != nil {
			return nil, err
		}
		now := p.now()
		for _, record := range records {
			if !record.Active(now) {
				continue
			}
			for _, member := range p.members {
				if member.Name != record.ProxyName {
					continue
				}
				if record.ExpiresAt.After(member.cooldownUntil) {
					member.cooldownUntil = record.ExpiresAt
				}
				metrics.ProxyAvailable.WithLabelValues(member.Name).Set(0)
			}
		}
	}
	return p, nil
}

// UsesProxy reports whether the named module is routed through the pool.
func (p *Pool) UsesProxy(module string) bool {
	if p == nil {
		return false
	}
	if p.allModules {
		return true
	}
	return p.modules[strings.ToLower(strings.TrimSpace(module))]
}

// Select returns the proxy to use for the next request. In single mode
// this is always the first member; in pool mode the least recently used
// available member. ErrNoProxyAvailable when every candidate is cooling.
func (p *Pool) Select() (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.mode == ModeSingle {
		member := p.members[0]
		if member.cooling(now) {
			return Entry{}, domain.ErrNoProxyAvailable
		}
		member.lastUsedAt = now
		return member.Entry, nil
	}

	var chosen *memberState
	for _, member := range p.members {
		if member.cooling(now) {
			continue
		}
		if chosen == nil || member.lastUsedAt.Before(chosen.lastUsedAt) {
			chosen = member
		}
	}
	if chosen == nil {
		return Entry{}, domain.ErrNoProxyAvailable
	}
	chosen.lastUsedAt = now
	return chosen.Entry, nil
}

// ReportSuccess resets the member's failure streak.
func (p *Pool) ReportSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	member := p.find(name)
	if member == nil {
		return
	}
	member.consecutiveFailures = 0
	member.lastSuccessAt = p.now()
	member.totalSuccess++
}

// ReportFailure records a failed request through the named proxy. A BAN
// classification, or reaching the consecutive-failure limit, puts the
// member on cooldown and appends a ledger row. Repeated BAN reports
// while already cooling are idempotent. Returns true when this call
// caused a new ban.
func (p *Pool) ReportFailure(name string, kind domain.Kind, description string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	member := p.find(name)
	if member == nil {
		return false
	}
	now := p.now()
	member.consecutiveFailures++
	member.totalFailure++
	member.lastFailureAt = now

	if member.cooling(now) {
		return false
	}
	banned := kind == domain.KindBan || member.consecutiveFailures >= p.maxFailures
	if !banned {
		return false
	}

	member.cooldownUntil = now.Add(p.cooldown)
	reason := "max_failures"
	if kind == domain.KindBan {
		reason = "ban"
	}
	record := domain.BanRecord{
		ProxyName:   member.Name,
		ProxyHost:   member.URL.Host,
		BannedAt:    now,
		ExpiresAt:   member.cooldownUntil,
		Reason:      reason,
		Description: description,
	}
	p.delta = append(p.delta, record)
	metrics.ProxyAvailable.WithLabelValues(member.Name).Set(0)
	metrics.BanEventsTotal.WithLabelValues(member.Name).Inc()
	if p.ledger != nil {
		// Append errors are discarded and not reported to the caller; the
		// record stays in the run's ban delta and the in-memory cooldown
		// still applies for this run.
		_ = p.ledger.Append(record)
	}
	return true
}

// Exhausted reports whether no member can currently be selected.
func (p *Pool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.mode == ModeSingle {
		return p.members[0].cooling(now)
	}
	for _, member := range p.members {
		if !member.cooling(now) {
			return false
		}
	}
	return true
}

// Snapshot returns per-member statistics for the run status.
func (p *Pool) Snapshot() []domain.ProxyStat {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := make([]domain.ProxyStat, 0, len(p.members))
	for _, member := range p.members {
		stats = append(stats, domain.ProxyStat{
			Name:                member.Name,
			Host:                member.URL.Host,
			ConsecutiveFailures: member.consecutiveFailures,
			Banned:              member.cooling(now),
			CooldownUntil:       member.cooldownUntil,
			LastSuccessAt:       member.lastSuccessAt,
			LastFailureAt:       member.lastFailureAt,
			TotalSuccess:        member.totalSuccess,
			TotalFailure:        member.totalFailure,
		})
	}
	return stats
}

// BanDelta returns the ledger rows appended during this run.
func (p *Pool) BanDelta() []domain.BanRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.BanRecord(nil), p.delta...)
}

func (p *Pool) find(name string) *memberState {
	for _, member := range p.members {
		if member.Name == name {
			return member
		}
	}
	return nil
}

// ParseEntry builds a pool entry from a configured name/url pair.
func ParseEntry(name, rawURL string) (Entry, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Entry{}, fmt.Errorf("proxy %q: invalid url %q", name, rawURL)
	}
	return Entry{Name: name, URL: parsed}, nil
}
