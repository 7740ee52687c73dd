// Package metrics defines Prometheus metrics for docmigrate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/persistorai/docmigrate/internal/models"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmigrate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	RecordsImported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_records_imported_total",
			Help: "Records upserted into the destination",
		},
		[]string{"collection"},
	)

	RecordsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_records_failed_total",
			Help: "Records that could not be loaded",
		},
		[]string{"collection"},
	)

	BatchFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_batch_fallbacks_total",
			Help: "Batches that fell back to per-record loading",
		},
		[]string{"collection"},
	)

	CollectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docmigrate_collection_load_seconds",
			Help:    "Time to load one collection",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"collection"},
	)

	BackupChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmigrate_backup_checks_total",
			Help: "Backup verification check outcomes",
		},
		[]string{"check", "result"},
	)

	LastVerificationPassed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docmigrate_backup_last_verification_passed",
			Help: "1 if the most recent backup verification passed, 0 otherwise",
		},
	)
)

// Collectors lists every docmigrate collector, for registration and pushing.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestDuration, RequestsTotal, ErrorsTotal,
		RecordsImported, RecordsFailed, BatchFallbacks, CollectionDuration,
		BackupChecks, LastVerificationPassed,
	}
}

func init() {
	prometheus.MustRegister(Collectors()...)
}

// ObserveImport records one collection's load outcome.
func ObserveImport(res *models.ImportResult) {
	RecordsImported.WithLabelValues(res.Collection).Add(float64(res.Succeeded))
	RecordsFailed.WithLabelValues(res.Collection).Add(float64(res.Failed))
	BatchFallbacks.WithLabelValues(res.Collection).Add(float64(res.Fallbacks))
	CollectionDuration.WithLabelValues(res.Collection).Observe(res.Duration.Seconds())
}

// ObserveVerification records the four check outcomes of one verification.
func ObserveVerification(res *models.VerificationResult) {
	checks := map[models.VerificationCheck]bool{
		models.CheckIntegrity:       res.Integrity,
		models.CheckRestorable:      res.Restorable,
		models.CheckDataConsistency: res.DataConsistency,
		models.CheckEncryption:      res.Encryption,
	}

	for check, ok := range checks {
		result := "failed"
		if ok {
			result = "passed"
		}

		BackupChecks.WithLabelValues(string(check), result).Inc()
	}

	if res.Passed() {
		LastVerificationPassed.Set(1)
	} else {
		LastVerificationPassed.Set(0)
	}
}
