package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "pages_total",
		Help:      "Index pages fetched by phase and result status.",
	}, []string{"phase", "status"})

	EntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "entries_total",
		Help:      "Catalog entries processed by phase and result status.",
	}, []string{"phase", "status"})

	FetchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "fetch_requests_total",
		Help:      "Outbound HTTP requests by module and classification.",
	}, []string{"module", "class"})

	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spider",
		Name:      "fetch_duration_seconds",
		Help:      "Outbound HTTP request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"module"})

	ProxyAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spider",
		Name:      "proxy_available",
		Help:      "Whether a proxy is available (1) or cooling down after a ban (0).",
	}, []string{"proxy"})

	BanEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "ban_events_total",
		Help:      "Proxy ban events by proxy name.",
	}, []string{"proxy"})

	AddsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "torrent_adds_total",
		Help:      "Torrent client add calls by result status.",
	}, []string{"status"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "detail_cache_hits_total",
		Help:      "Detail page cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spider",
		Name:      "detail_cache_misses_total",
		Help:      "Detail page cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PagesTotal,
		EntriesTotal,
		FetchRequestsTotal,
		FetchDuration,
		ProxyAvailable,
		BanEventsTotal,
		AddsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}
