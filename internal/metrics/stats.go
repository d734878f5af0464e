package metrics

import "exchangecatalog/logger"

// ProcessorStats holds counters for the normalizer worker pool.
type ProcessorStats struct {
	MessagesProcessed int64
	RecordsProduced   int64
	ErrorsCount       int64
	InputLen          int
	InputCap          int
}

// ReportProcessor emits processor metrics and one summary log line.
func ReportProcessor(log *logger.Log, stats ProcessorStats) {
	const component = "processor"
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.MessagesProcessed > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.MessagesProcessed)
	}
	avgRecords := float64(0)
	if ok := stats.MessagesProcessed - stats.ErrorsCount; ok > 0 {
		avgRecords = float64(stats.RecordsProduced) / float64(ok)
	}

	EmitMetric(log, component, "messages_processed", stats.MessagesProcessed, "counter", nil)
	EmitMetric(log, component, "records_produced", stats.RecordsProduced, "counter", nil)
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, component, "input_queue_length", stats.InputLen, "gauge", nil)

	l.WithFields(logger.Fields{
		"messages_processed":      stats.MessagesProcessed,
		"records_produced":        stats.RecordsProduced,
		"errors_count":            stats.ErrorsCount,
		"error_rate":              errorRate,
		"avg_records_per_message": avgRecords,
		"input_queue_len":         stats.InputLen,
		"input_queue_cap":         stats.InputCap,
	}).Info("processor metrics")
}

// WriterStats holds counters for one exporter.
type WriterStats struct {
	BatchesWritten int64
	RecordsWritten int64
	BytesWritten   int64
	ErrorsCount    int64
}

// ReportWriter emits exporter metrics under component. A summary with
// errors is logged as a warning.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	avgBytes := float64(0)
	if stats.BatchesWritten > 0 {
		avgBytes = float64(stats.BytesWritten) / float64(stats.BatchesWritten)
	}

	EmitMetric(log, component, "batches_written", stats.BatchesWritten, "counter", nil)
	EmitMetric(log, component, "records_written", stats.RecordsWritten, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)

	entry := l.WithFields(logger.Fields{
		"batches_written":     stats.BatchesWritten,
		"records_written":     stats.RecordsWritten,
		"bytes_written":       stats.BytesWritten,
		"errors_count":        stats.ErrorsCount,
		"avg_bytes_per_batch": avgBytes,
	})
	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
