// Package metrics records engine activity as Prometheus series, structured
// metric events and, when configured, CloudWatch data.
//
// Registers:
//
//	exchangecatalog_normalized_records_total{vendor,data_type,source_type}
//	exchangecatalog_normalize_failures_total{vendor,data_type,source_type,reason}
//	exchangecatalog_rule_cache_lookups_total{result}
//	exchangecatalog_normalize_duration_seconds{vendor,data_type}
//	exchangecatalog_required_coverage_ratio{vendor,data_type,source_type}
//	go_* and process_* collectors
package metrics

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchangecatalog/internal/engine"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

const namespace = "exchangecatalog"

// Recorder is an engine.Observer backed by its own Prometheus registry.
type Recorder struct {
	registry   *prometheus.Registry
	normalized *prometheus.CounterVec
	failures   *prometheus.CounterVec
	lookups    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	coverage   *prometheus.GaugeVec
	log        *logger.Log
}

var _ engine.Observer = (*Recorder)(nil)

func NewRecorder(log *logger.Log) *Recorder {
	if log == nil {
		log = logger.GetLogger()
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		normalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalized_records_total",
			Help:      "Records produced by the normalization engine.",
		}, []string{"vendor", "data_type", "source_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_failures_total",
			Help:      "Normalization calls that returned an error, by reason.",
		}, []string{"vendor", "data_type", "source_type", "reason"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_lookups_total",
			Help:      "Rule cache lookups by result (hit or miss).",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "normalize_duration_seconds",
			Help:      "Time spent applying rules to one record.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"vendor", "data_type"}),
		coverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "required_coverage_ratio",
			Help:      "Required field coverage of the most recent record.",
		}, []string{"vendor", "data_type", "source_type"}),
		log: log,
	}
	r.registry.MustRegister(
		r.normalized, r.failures, r.lookups, r.duration, r.coverage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RuleLookup(_ string, _ models.DataType, _ models.SourceType, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.lookups.WithLabelValues(result).Inc()
}

func (r *Recorder) Normalized(rec *models.NormalizedRecord, elapsed time.Duration) {
	dt, src := string(rec.DataType), string(rec.SourceType)
	r.normalized.WithLabelValues(rec.Vendor, dt, src).Inc()
	r.duration.WithLabelValues(rec.Vendor, dt).Observe(elapsed.Seconds())
	r.coverage.WithLabelValues(rec.Vendor, dt, src).Set(rec.Meta.CoverageRequired)
}

func (r *Recorder) Failed(vendor string, dt models.DataType, src models.SourceType, err error) {
	reason := Reason(err)
	r.failures.WithLabelValues(vendor, string(dt), string(src), reason).Inc()
	EmitMetric(r.log, "engine", "normalize_failures", 1, "counter", logger.Fields{
		"vendor":      vendor,
		"data_type":   string(dt),
		"source_type": string(src),
		"reason":      reason,
	})
}

// Reason classifies an engine error into a low-cardinality label.
func Reason(err error) string {
	var terr *engine.TransformationError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &terr):
		return "transformation"
	case errors.Is(err, engine.ErrUnknownVendor):
		return "unknown_vendor"
	case errors.Is(err, engine.ErrUnknownDataType):
		return "unknown_data_type"
	case errors.Is(err, engine.ErrConfiguration):
		return "configuration"
	case errors.Is(err, engine.ErrBatchInput), errors.Is(err, engine.ErrBadInput), errors.Is(err, models.ErrInvalidSourceType):
		return "bad_input"
	}
	return "other"
}

func sortedKeys(fields logger.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
