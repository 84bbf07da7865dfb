// Package metrics provides Prometheus metrics for kvengine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the engine exposes. A nil *Metrics
// is valid: every Record*/Set* method is a no-op on a nil receiver, so unit
// tests can build an Environment without a registry.
type Metrics struct {
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter

	FreelistAllocationsTotal *prometheus.CounterVec // label: "result" = hit|miss
	FreelistSizeBytes        prometheus.Gauge

	BtreeInsertsTotal *prometheus.CounterVec // label: "result" = ok|split
	BtreeErasesTotal  *prometheus.CounterVec // label: "result" = ok|merge
	BtreeSplitsTotal  prometheus.Counter
	BtreeMergesTotal  prometheus.Counter

	DupeTableGrowthsTotal prometheus.Counter

	BlobAllocationsTotal *prometheus.CounterVec // label: "class" = tiny|small|empty|outline
	BlobOverwritesTotal  *prometheus.CounterVec // label: "class"

	WalAppendsTotal     prometheus.Counter
	WalFsyncsTotal      prometheus.Counter
	WalCheckpointsTotal prometheus.Counter
	WalBytesWritten     prometheus.Counter

	RecoveryReplayedOpsTotal prometheus.Counter
	RecoveryUndonePages      prometheus.Counter

	ActiveTransactions prometheus.Gauge

	DbOperationDuration *prometheus.HistogramVec // label: "operation"
}

// New creates and registers every series against the default registry.
func New() *Metrics {
	m := &Metrics{}

	m.CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_cache_hits_total", Help: "Page cache hits.",
	})
	m.CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_cache_misses_total", Help: "Page cache misses.",
	})
	m.CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_cache_evictions_total", Help: "Pages evicted from the cache.",
	})

	m.FreelistAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvengine_freelist_allocations_total", Help: "Freelist allocation attempts by result.",
	}, []string{"result"})
	m.FreelistSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvengine_freelist_size_bytes", Help: "Bytes currently tracked as free.",
	})

	m.BtreeInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvengine_btree_inserts_total", Help: "B+tree inserts by result.",
	}, []string{"result"})
	m.BtreeErasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvengine_btree_erases_total", Help: "B+tree erases by result.",
	}, []string{"result"})
	m.BtreeSplitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_btree_splits_total", Help: "B+tree node splits.",
	})
	m.BtreeMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_btree_merges_total", Help: "B+tree node merges.",
	})

	m.DupeTableGrowthsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_dupe_table_growths_total", Help: "Duplicate-table reallocations.",
	})

	m.BlobAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvengine_blob_allocations_total", Help: "BLOB allocations by representation class.",
	}, []string{"class"})
	m.BlobOverwritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvengine_blob_overwrites_total", Help: "BLOB overwrites by representation class.",
	}, []string{"class"})

	m.WalAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_wal_appends_total", Help: "Write-ahead log entries appended.",
	})
	m.WalFsyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_wal_fsyncs_total", Help: "Write-ahead log fsync calls.",
	})
	m.WalCheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_wal_checkpoints_total", Help: "Write-ahead log checkpoints (file rotations).",
	})
	m.WalBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_wal_bytes_written_total", Help: "Bytes appended to the write-ahead log.",
	})

	m.RecoveryReplayedOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_recovery_replayed_ops_total", Help: "Log entries read during the last recovery pass.",
	})
	m.RecoveryUndonePages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvengine_recovery_undone_pages_total", Help: "Pages restored to a before-image during recovery.",
	})

	m.ActiveTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvengine_active_transactions", Help: "1 if a transaction is currently open, else 0.",
	})

	m.DbOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kvengine_db_operation_duration_seconds",
		Help:    "Duration of Database operations.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation"})

	return m
}

func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) RecordCacheEviction() {
	if m != nil {
		m.CacheEvictionsTotal.Inc()
	}
}

func (m *Metrics) RecordFreelistAlloc(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.FreelistAllocationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBtreeInsert(split bool) {
	if m == nil {
		return
	}
	result := "ok"
	if split {
		result = "split"
		m.BtreeSplitsTotal.Inc()
	}
	m.BtreeInsertsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBtreeErase(merged bool) {
	if m == nil {
		return
	}
	result := "ok"
	if merged {
		result = "merge"
		m.BtreeMergesTotal.Inc()
	}
	m.BtreeErasesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBlobAllocation(class string) {
	if m != nil {
		m.BlobAllocationsTotal.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) RecordWalAppend(bytes int) {
	if m == nil {
		return
	}
	m.WalAppendsTotal.Inc()
	m.WalBytesWritten.Add(float64(bytes))
}

func (m *Metrics) RecordWalFsync() {
	if m != nil {
		m.WalFsyncsTotal.Inc()
	}
}

func (m *Metrics) RecordCheckpoint() {
	if m != nil {
		m.WalCheckpointsTotal.Inc()
	}
}

func (m *Metrics) RecordRecovery(entriesRead, pagesUndone int) {
	if m == nil {
		return
	}
	m.RecoveryReplayedOpsTotal.Add(float64(entriesRead))
	m.RecoveryUndonePages.Add(float64(pagesUndone))
}

func (m *Metrics) SetActiveTransaction(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ActiveTransactions.Set(1)
	} else {
		m.ActiveTransactions.Set(0)
	}
}

func (m *Metrics) ObserveDbOperation(operation string, d time.Duration) {
	if m != nil {
		m.DbOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}
