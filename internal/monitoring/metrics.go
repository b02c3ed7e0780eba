package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookupsTotal counts media cache lookups by result (hit, miss)
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscore_cache_lookups_total",
			Help: "Total number of resolved media cache lookups",
		},
		[]string{"result"},
	)

	// CacheResolutionsTotal counts resolutions by outcome and priority
	CacheResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscore_cache_resolutions_total",
			Help: "Total number of storage key resolutions",
		},
		[]string{"outcome", "priority"},
	)

	// CacheEntries tracks the number of live cache entries
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatscore_cache_entries",
			Help: "Current number of resolved media cache entries",
		},
	)

	// CachePurgedTotal counts entries removed by the expiry sweep
	CachePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beatscore_cache_purged_total",
			Help: "Total number of expired cache entries purged",
		},
	)

	// SigningDuration tracks calls to the signing endpoint
	SigningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beatscore_signing_duration_seconds",
			Help:    "Signing endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// DownloadsTotal tracks finished downloads by status
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscore_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	// DownloadDuration tracks download duration in seconds
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatscore_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// ActiveDownloads tracks number of active downloads
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beatscore_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beatscore_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// APIRequestsTotal tracks control API requests by route and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscore_api_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"route", "status"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatscore_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordResolution records the outcome of a resolution
func RecordResolution(outcome, priority string) {
	CacheResolutionsTotal.WithLabelValues(outcome, priority).Inc()
}

// RecordCacheSize updates the cache entry gauge
func RecordCacheSize(entries int) {
	CacheEntries.Set(float64(entries))
}

// RecordCachePurge records entries removed by a sweep
func RecordCachePurge(removed int) {
	CachePurgedTotal.Add(float64(removed))
}

// RecordSigning records a signing request
func RecordSigning(status string, duration time.Duration) {
	SigningDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed").Inc()
	DownloadDuration.Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed download
func RecordDownloadFailed(errorType string) {
	DownloadsTotal.WithLabelValues("failed").Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// RecordDownloadStopped records a download that was cancelled or paused
func RecordDownloadStopped(reason string) {
	DownloadsTotal.WithLabelValues(reason).Inc()
	ActiveDownloads.Dec()
}

// RecordAPIRequest records a control API request
func RecordAPIRequest(route, status string) {
	APIRequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
