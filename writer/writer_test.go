package writer

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"gopkg.in/yaml.v3"

	appconfig "exchangecatalog/config"
	"exchangecatalog/internal/store"
	"exchangecatalog/models"
)

// bufferFile serves an encoded parquet file to the reader.
type bufferFile struct {
	data []byte
	*bytes.Reader
}

func newBufferFile(data []byte) bufferFile { return bufferFile{data: data, Reader: bytes.NewReader(data)} }

func (f bufferFile) Open(string) (source.ParquetFile, error)   { return newBufferFile(f.data), nil }
func (f bufferFile) Create(string) (source.ParquetFile, error) { return nil, io.ErrUnexpectedEOF }
func (f bufferFile) Write([]byte) (int, error)                 { return 0, io.ErrShortWrite }
func (f bufferFile) Close() error                              { return nil }

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func tickerRecord(vendor, symbol, last string) *models.NormalizedRecord {
	rec := models.NewRecord(vendor, models.DataTypeTicker, models.SourceWebSocket, models.DefaultSchema[models.DataTypeTicker])
	rec.Set(models.FieldSymbol, symbol)
	rec.Set(models.FieldLastPrice, decimal.RequireFromString(last))
	rec.Derive(models.FieldTimestamp, fixedTime)
	rec.Derive(models.FieldExchange, vendor)
	rec.Finalize()
	return rec
}

func testBatch() Batch {
	b := NewBatch("coinbase", models.DataTypeTicker, []*models.NormalizedRecord{
		tickerRecord("coinbase", "BTC-USD", "43210.5"),
		tickerRecord("coinbase", "ETH-USD", "3100.25"),
	})
	b.CreatedAt = fixedTime
	return b
}

func TestRows(t *testing.T) {
	rows := Rows(testBatch())
	require.Len(t, rows, 8)
	first := rows[0]
	assert.Equal(t, "exchange", first.Field)
	assert.True(t, first.Derived)
	assert.Equal(t, fixedTime.UnixMilli(), first.Timestamp)
	assert.Equal(t, "BTC-USD", first.Symbol)

	var last ParquetRecord
	for _, r := range rows {
		if r.RecordIndex == 1 && r.Field == "last_price" {
			last = r
		}
	}
	assert.Equal(t, "3100.25", last.Value)
	assert.False(t, last.Derived)
	assert.InDelta(t, 0.4, last.CoverageRequired, 1e-9)
}

func TestParquetRoundTrip(t *testing.T) {
	w := NewParquetWriter(appconfig.ParquetConfig{Compression: "snappy"}, appconfig.PartitioningConfig{})
	data, err := w.Encode(testBatch())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))

	pr, err := reader.NewParquetReader(newBufferFile(data), new(ParquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	require.Equal(t, 8, n)
	rows := make([]ParquetRecord, n)
	require.NoError(t, pr.Read(&rows))
	assert.Equal(t, Rows(testBatch())[3].Field, rows[3].Field)
	assert.Equal(t, "coinbase", rows[0].Vendor)
}

func TestObjectKey(t *testing.T) {
	w := NewParquetWriter(appconfig.ParquetConfig{}, appconfig.PartitioningConfig{Prefix: "/normalized/", TimeFormat: "2006/01/02"})
	b := testBatch()
	key := w.ObjectKey(b)
	assert.Equal(t, "normalized/vendor=coinbase/data_type=ticker/2024/03/01/coinbase_ticker_"+b.ID+".parquet", key)
}

func TestExportWritesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewParquetWriter(appconfig.ParquetConfig{Compression: "gzip", Dir: dir}, appconfig.PartitioningConfig{Prefix: "normalized"})
	key, data, err := w.Export(testBatch())
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.BatchesWritten)
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, int64(len(data)), stats.BytesWritten)
}

func TestGroupBatches(t *testing.T) {
	recs := []*models.NormalizedRecord{
		tickerRecord("coinbase", "BTC-USD", "1"),
		tickerRecord("kraken", "XBT-USD", "2"),
		tickerRecord("coinbase", "ETH-USD", "3"),
	}
	batches := GroupBatches(recs)
	require.Len(t, batches, 2)
	assert.Equal(t, "coinbase", batches[0].Vendor)
	assert.Len(t, batches[0].Records, 2)
	assert.Equal(t, "kraken", batches[1].Vendor)
	assert.NotEqual(t, batches[0].ID, batches[1].ID)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := appconfig.RedisConfig{Addr: mr.Addr(), KeyPrefix: "catalog:latest", Channel: "catalog.normalized", TTL: time.Hour}
	p := NewRedisPublisher(cfg)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, cfg.Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	rec := tickerRecord("coinbase", "BTC-USD", "43210.5")
	require.NoError(t, p.Publish(ctx, rec))

	key := "catalog:latest:coinbase:ticker:BTC-USD"
	assert.Equal(t, key, p.Key(rec))
	stored, err := mr.Get(key)
	require.NoError(t, err)
	assert.Contains(t, stored, `"last_price":"43210.5"`)
	assert.Equal(t, time.Hour, mr.TTL(key))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, stored, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	assert.Equal(t, int64(1), p.Stats().RecordsWritten)
}

func TestRedisPublisherUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	p := NewRedisPublisher(appconfig.RedisConfig{Addr: mr.Addr(), KeyPrefix: "x"})
	mr.Close()
	defer p.Close()

	err := p.Publish(context.Background(), tickerRecord("coinbase", "BTC-USD", "1"))
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().ErrorsCount)
}

func TestS3Upload(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var mu sync.Mutex
	var method, path, compression string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path, compression = r.Method, r.URL.Path, r.Header.Get("x-amz-meta-compression")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewS3Uploader(context.Background(), appconfig.S3Config{
		Enabled:         true,
		Bucket:          "catalog-exports",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}, "test")
	require.NoError(t, err)

	key := "normalized/vendor=coinbase/x.parquet"
	require.NoError(t, u.Upload(context.Background(), key, []byte("PAR1data"), "snappy"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/catalog-exports/"+key, path)
	assert.Equal(t, "snappy", compression)
	assert.Equal(t, "s3://catalog-exports/"+key, u.URI(key))
	assert.Equal(t, int64(1), u.Stats().BatchesWritten)
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	catalog, err := store.LoadSeed("../config/mappings.yml")
	require.NoError(t, err)
	st, err := store.MemoryStoreFromSeed(catalog)
	require.NoError(t, err)
	return st
}

func TestBuildCoverageReport(t *testing.T) {
	report, err := BuildCoverageReport(context.Background(), seedStore(t), 3)
	require.NoError(t, err)

	require.NotEmpty(t, report.Vendors)
	assert.Equal(t, len(report.Vendors), report.TotalVendors)
	require.Len(t, report.Leaders, 3)
	for i := 1; i < len(report.Leaders); i++ {
		assert.GreaterOrEqual(t, report.Leaders[i-1].CoveragePercent, report.Leaders[i].CoveragePercent)
		assert.Equal(t, i+1, report.Leaders[i].Rank)
	}

	var sum float64
	for _, v := range report.Vendors {
		sum += v.DataTypes[models.DataTypeTicker].CoveragePercent
		if v.Vendor == "coinbase" {
			assert.Equal(t, 80.0, v.DataTypes[models.DataTypeTicker].CoveragePercent)
		}
	}
	assert.Equal(t, math.Round(sum/float64(len(report.Vendors))*10)/10, report.AverageTickerCoverage)
}

func TestWriteCoverageReport(t *testing.T) {
	report, err := BuildCoverageReport(context.Background(), seedStore(t), 0)
	require.NoError(t, err)

	var js bytes.Buffer
	require.NoError(t, WriteCoverageReport(&js, "json", report))
	assert.Contains(t, js.String(), `"average_ticker_coverage"`)

	var yml bytes.Buffer
	require.NoError(t, WriteCoverageReport(&yml, "yaml", report))
	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(yml.Bytes(), &decoded))
	assert.Contains(t, decoded, "leaders")

	assert.Error(t, WriteCoverageReport(io.Discard, "xml", report))

	path := filepath.Join(t.TempDir(), "reports", "coverage.yml")
	require.NoError(t, WriteCoverageReportFile(path, report))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "generated_at:"))
}

func TestManifest(t *testing.T) {
	recs := []*models.NormalizedRecord{
		tickerRecord("coinbase", "BTC-USD", "1"),
		tickerRecord("coinbase", "ETH-USD", "2"),
	}
	b := NewBatch("coinbase", models.DataTypeTicker, recs)

	m := NewManifest("1.2.3")
	m.Add(b, "normalized/x.parquet", "s3://bucket/normalized/x.parquet", 2048)
	require.Len(t, m.Files, 1)
	assert.Equal(t, 2, m.Records)
	assert.InDelta(t, recs[0].Meta.CoverageRequired, m.Files[0].AvgCoverage, 1e-9)
	assert.Equal(t, "normalized/_manifests/"+m.RunID+".json", m.Key("normalized"))

	dir := t.TempDir()
	dest, data, err := m.WriteFile(dir, "normalized")
	require.NoError(t, err)
	onDisk, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
	assert.Contains(t, string(data), `"record_count": 2`)
	assert.Contains(t, string(data), `"version": "1.2.3"`)
	assert.False(t, m.CompletedAt.IsZero())
}
