package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ProxyEntryConfig is one pool member as configured by the operator.
type ProxyEntryConfig struct {
	Name string
	URL  string // http(s)://[user:pass@]host:port
}

type ProxyConfig struct {
	Mode        string // "single" or "pool"
	Pool        []ProxyEntryConfig
	Cooldown    time.Duration
	MaxFailures int
	Modules     []string // subset of {spider_index, spider_detail, spider_age_verification, qbittorrent, pikpak, all}
}

type BypassConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type QbtConfig struct {
	Host           string
	Port           int
	User           string
	Pass           string
	CategoryDaily  string
	CategoryAdhoc  string
	SavePath       string
	AutoStart      bool
	SkipChecking   bool
	RequestTimeout time.Duration
	InterAddDelay  time.Duration
}

type DeepStoreConfig struct {
	Endpoint     string
	Email        string
	Pass         string
	RequestDelay time.Duration
	MinAgeDays   int
}

type Config struct {
	LogLevel  string
	LogFormat string
	UserAgent string

	BaseURL           string
	SessionCookie     string // catalog session, produced by the external login helper
	StartPage         int
	EndPage           int
	AllMode           bool
	Phase2MinRate     float64
	Phase2MinComments int
	DetailSleep       time.Duration
	PageSleep         time.Duration
	EntrySleep        time.Duration
	IgnoreReleaseDate bool
	RequestTimeout    time.Duration
	RunBudget         time.Duration // soft wall clock; 0 disables
	DetailWorkers     int

	ReportDir   string
	HistoryPath string
	LedgerPath  string

	RedisURL      string
	CacheTTL      time.Duration
	CacheDisabled bool

	Proxy     ProxyConfig
	Bypass    BypassConfig
	Qbt       QbtConfig
	DeepStore DeepStoreConfig
}

func LoadConfig() Config {
	reportDir := getEnv("SPIDER_REPORT_DIR", "reports")
	return Config{
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent: getEnv("SPIDER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),

		BaseURL:           getEnv("SPIDER_BASE_URL", "https://javdb.com"),
		SessionCookie:     buildSessionCookie(),
		StartPage:         getEnvInt("SPIDER_START_PAGE", 1),
		EndPage:           getEnvInt("SPIDER_END_PAGE", 5),
		AllMode:           getEnvBool("SPIDER_ALL_MODE", false),
		Phase2MinRate:     getEnvFloat("SPIDER_PHASE2_MIN_RATE", 4.0),
		Phase2MinComments: getEnvInt("SPIDER_PHASE2_MIN_COMMENTS", 80),
		DetailSleep:       getEnvDuration("SPIDER_DETAIL_SLEEP", 4*time.Second),
		PageSleep:         getEnvDuration("SPIDER_PAGE_SLEEP", 2*time.Second),
		EntrySleep:        getEnvDuration("SPIDER_ENTRY_SLEEP", time.Second),
		IgnoreReleaseDate: getEnvBool("SPIDER_IGNORE_RELEASE_DATE", false),
		RequestTimeout:    getEnvDuration("SPIDER_REQUEST_TIMEOUT", 20*time.Second),
		RunBudget:         getEnvDuration("SPIDER_RUN_BUDGET", 0),
		DetailWorkers:     getEnvInt("SPIDER_DETAIL_WORKERS", 1),

		ReportDir:   reportDir,
		HistoryPath: getEnv("SPIDER_HISTORY_PATH", reportDir+"/parsed_movies_history.csv"),
		LedgerPath:  getEnv("SPIDER_PROXY_BAN_PATH", reportDir+"/proxy_bans.csv"),

		RedisURL:      getEnv("REDIS_URL", ""),
		CacheTTL:      getEnvDuration("SPIDER_CACHE_TTL", 12*time.Hour),
		CacheDisabled: getEnvBool("SPIDER_CACHE_DISABLED", true),

		Proxy: ProxyConfig{
			Mode:        strings.ToLower(getEnv("SPIDER_PROXY_MODE", "single")),
			Pool:        parseProxyPool(getEnv("SPIDER_PROXY_POOL", "")),
			Cooldown:    getEnvDuration("SPIDER_PROXY_COOLDOWN", 8*24*time.Hour),
			MaxFailures: getEnvInt("SPIDER_PROXY_MAX_FAILURES", 3),
			Modules:     splitList(getEnv("SPIDER_PROXY_MODULES", "spider_index,spider_detail")),
		},
		Bypass: BypassConfig{
			Enabled: getEnvBool("SPIDER_BYPASS_ENABLED", false),
			Host:    getEnv("SPIDER_BYPASS_HOST", "127.0.0.1"),
			Port:    getEnvInt("SPIDER_BYPASS_PORT", 8191),
		},
		Qbt: QbtConfig{
			Host:           getEnv("QBT_HOST", "127.0.0.1"),
			Port:           getEnvInt("QBT_PORT", 8080),
			User:           getEnv("QBT_USER", "admin"),
			Pass:           os.Getenv("QBT_PASS"),
			CategoryDaily:  getEnv("QBT_CATEGORY_DAILY", "daily"),
			CategoryAdhoc:  getEnv("QBT_CATEGORY_ADHOC", "adhoc"),
			SavePath:       getEnv("QBT_SAVE_PATH", "/downloads"),
			AutoStart:      getEnvBool("QBT_AUTO_START", true),
			SkipChecking:   getEnvBool("QBT_SKIP_CHECKING", false),
			RequestTimeout: getEnvDuration("QBT_REQUEST_TIMEOUT", 15*time.Second),
			InterAddDelay:  getEnvDuration("QBT_INTER_ADD_DELAY", 2*time.Second),
		},
		DeepStore: DeepStoreConfig{
			Endpoint:     getEnv("PIKPAK_ENDPOINT", "https://api-drive.mypikpak.com"),
			Email:        getEnv("PIKPAK_EMAIL", ""),
			Pass:         os.Getenv("PIKPAK_PASS"),
			RequestDelay: getEnvDuration("PIKPAK_REQUEST_DELAY", 3*time.Second),
			MinAgeDays:   getEnvInt("PIKPAK_MIN_AGE_DAYS", 7),
		},
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getEnvDuration accepts Go duration syntax ("90s", "8h") or a bare
// number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed >= 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

// buildSessionCookie assembles the catalog session cookie from either a
// raw Cookie header value or individual cookie parts.
func buildSessionCookie() string {
	raw := strings.TrimSpace(os.Getenv("SPIDER_SESSION_COOKIE"))
	if raw != "" {
		return raw
	}
	parts := make([]string, 0, 3)
	for _, item := range []struct {
		Env  string
		Name string
	}{
		{Env: "SPIDER_SESSION_ID", Name: "_jdb_session"},
		{Env: "SPIDER_OVER18", Name: "over18"},
		{Env: "SPIDER_CF_CLEARANCE", Name: "cf_clearance"},
	} {
		value := strings.TrimSpace(os.Getenv(item.Env))
		if value == "" {
			continue
		}
		parts = append(parts, item.Name+"="+value)
	}
	return strings.Join(parts, "; ")
}

// parseProxyPool parses "name=url,name=url". A bare URL gets a
// positional name.
func parseProxyPool(raw string) []ProxyEntryConfig {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]ProxyEntryConfig, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for i, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		name := "proxy-" + strconv.Itoa(i+1)
		urlValue := entry
		if idx := strings.Index(entry, "="); idx > 0 && !strings.Contains(entry[:idx], "://") {
			name = strings.TrimSpace(entry[:idx])
			urlValue = strings.TrimSpace(entry[idx+1:])
		}
		if urlValue == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		items = append(items, ProxyEntryConfig{Name: name, URL: urlValue})
	}
	return items
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.ToLower(strings.TrimSpace(part))
		if value == "" {
			continue
		}
		items = append(items, value)
	}
	return items
}
