package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	if got := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("hit delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CacheLookupsTotal.WithLabelValues("miss")) - misses; got != 2 {
		t.Errorf("miss delta = %v, want 2", got)
	}
}

func TestRecordCacheSize(t *testing.T) {
	RecordCacheSize(42)
	if got := testutil.ToFloat64(CacheEntries); got != 42 {
		t.Errorf("CacheEntries = %v, want 42", got)
	}
	RecordCacheSize(0)
}

func TestRecordDownloadMetrics(t *testing.T) {
	before := testutil.ToFloat64(ActiveDownloads)

	RecordDownloadStart()
	RecordDownloadStart()
	RecordDownloadComplete(3*time.Second, 5*1024*1024)
	RecordDownloadFailed("transfer")

	if got := testutil.ToFloat64(ActiveDownloads); got != before {
		t.Errorf("ActiveDownloads = %v, want %v", got, before)
	}

	RecordDownloadStart()
	RecordDownloadStopped("cancelled")
	if got := testutil.ToFloat64(ActiveDownloads); got != before {
		t.Errorf("ActiveDownloads after stop = %v, want %v", got, before)
	}
}

func TestRecordMisc(t *testing.T) {
	RecordResolution("resolved", "high")
	RecordCachePurge(3)
	RecordSigning("200", 120*time.Millisecond)
	RecordAPIRequest("/api/v1/downloads", "202")
	RecordError("resolution")
}
