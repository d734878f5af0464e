package writer

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "exchangecatalog/config"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

// ParquetRecord is one canonical field of one normalized record. Records are
// stored long so every data type shares a schema.
type ParquetRecord struct {
	BatchID          string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Vendor           string  `parquet:"name=vendor, type=BYTE_ARRAY, convertedtype=UTF8"`
	DataType         string  `parquet:"name=data_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceType       string  `parquet:"name=source_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordIndex      int32   `parquet:"name=record_index, type=INT32"`
	Symbol           string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp        int64   `parquet:"name=timestamp, type=INT64"`
	Field            string  `parquet:"name=field, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value            string  `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Derived          bool    `parquet:"name=derived, type=BOOLEAN"`
	CoverageRequired float64 `parquet:"name=coverage_required, type=DOUBLE"`
}

type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

// Seek is only called by the writer to learn the current offset.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Batch is a set of normalized records exported together.
type Batch struct {
	ID        string
	Vendor    string
	DataType  models.DataType
	CreatedAt time.Time
	Records   []*models.NormalizedRecord
}

// NewBatch groups records that share a vendor and data type.
func NewBatch(vendor string, dt models.DataType, records []*models.NormalizedRecord) Batch {
	return Batch{ID: uuid.NewString(), Vendor: vendor, DataType: dt, CreatedAt: time.Now().UTC(), Records: records}
}

// GroupBatches splits records into one batch per vendor and data type, in
// first-seen order.
func GroupBatches(records []*models.NormalizedRecord) []Batch {
	type key struct {
		vendor string
		dt     models.DataType
	}
	index := map[key]int{}
	var out []Batch
	for _, rec := range records {
		k := key{rec.Vendor, rec.DataType}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, NewBatch(rec.Vendor, rec.DataType, nil))
		}
		out[i].Records = append(out[i].Records, rec)
	}
	return out
}

// ParquetWriter encodes batches and writes them under a partitioned layout.
type ParquetWriter struct {
	config       appconfig.ParquetConfig
	partitioning appconfig.PartitioningConfig
	log          *logger.Log

	batchesWritten atomic.Int64
	recordsWritten atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

func NewParquetWriter(cfg appconfig.ParquetConfig, partitioning appconfig.PartitioningConfig) *ParquetWriter {
	return &ParquetWriter{config: cfg, partitioning: partitioning, log: logger.GetLogger()}
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	}
	return parquet.CompressionCodec_UNCOMPRESSED
}

// Rows flattens a batch into parquet rows, fields sorted by name.
func Rows(b Batch) []ParquetRecord {
	var rows []ParquetRecord
	for i, rec := range b.Records {
		var ts int64
		if t, ok := rec.Timestamp(); ok {
			ts = t.UnixMilli()
		}
		symbol := rec.Text(models.FieldSymbol)

		fields := make([]string, 0, len(rec.Fields))
		for f := range rec.Fields {
			fields = append(fields, string(f))
		}
		sort.Strings(fields)
		for _, name := range fields {
			f := models.Field(name)
			rows = append(rows, ParquetRecord{
				BatchID:          b.ID,
				Vendor:           rec.Vendor,
				DataType:         string(rec.DataType),
				SourceType:       string(rec.SourceType),
				RecordIndex:      int32(i),
				Symbol:           symbol,
				Timestamp:        ts,
				Field:            name,
				Value:            valueText(rec, f),
				Derived:          rec.IsDerived(f),
				CoverageRequired: rec.Meta.CoverageRequired,
			})
		}
	}
	return rows
}

func valueText(rec *models.NormalizedRecord, f models.Field) string {
	switch rec.Fields[f].(type) {
	case []any, map[string]any:
		b, err := jsonAPI.Marshal(rec.Fields[f])
		if err == nil {
			return string(b)
		}
	}
	return rec.Text(f)
}

// Encode renders the batch as an in-memory parquet file.
func (w *ParquetWriter) Encode(b Batch) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(w.config.Compression)
	if w.config.RowGroupSize > 0 {
		pw.RowGroupSize = w.config.RowGroupSize
	}

	for _, row := range Rows(b) {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

// ObjectKey builds prefix/vendor=x/data_type=y/<time>/<vendor>_<type>_<id>.parquet.
func (w *ParquetWriter) ObjectKey(b Batch) string {
	timeFormat := w.partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02/15"
	}
	parts := []string{}
	if w.partitioning.Prefix != "" {
		parts = append(parts, strings.Trim(w.partitioning.Prefix, "/"))
	}
	parts = append(parts,
		"vendor="+b.Vendor,
		"data_type="+string(b.DataType),
		b.CreatedAt.UTC().Format(timeFormat),
		fmt.Sprintf("%s_%s_%s.parquet", b.Vendor, b.DataType, b.ID),
	)
	return path.Join(parts...)
}

// Export encodes b and, when a directory is configured, writes it there.
// It returns the object key and the encoded bytes for upload.
func (w *ParquetWriter) Export(b Batch) (string, []byte, error) {
	log := w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"batch_id":  b.ID,
		"vendor":    b.Vendor,
		"data_type": string(b.DataType),
		"records":   len(b.Records),
	})

	start := time.Now()
	data, err := w.Encode(b)
	if err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).Error("failed to create parquet file")
		return "", nil, err
	}
	key := w.ObjectKey(b)

	if w.config.Dir != "" {
		dest := filepath.Join(w.config.Dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			w.errorsCount.Add(1)
			return "", nil, fmt.Errorf("create export directory: %w", err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			w.errorsCount.Add(1)
			return "", nil, fmt.Errorf("write %s: %w", dest, err)
		}
	}

	w.batchesWritten.Add(1)
	w.recordsWritten.Add(int64(len(b.Records)))
	w.bytesWritten.Add(int64(len(data)))
	logger.LogPerformanceEntry(log, "parquet_writer", "export", time.Since(start), logger.Fields{
		"file_size":   len(data),
		"compression": w.config.Compression,
		"key":         key,
	})
	logger.LogDataFlowEntry(log, "engine", "parquet", len(b.Records), "normalized_records")
	return key, data, nil
}

func (w *ParquetWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: w.batchesWritten.Load(),
		RecordsWritten: w.recordsWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
	}
}

// Report emits the writer counters.
func (w *ParquetWriter) Report() {
	metrics.ReportWriter(w.log, "parquet_writer", w.Stats())
}
