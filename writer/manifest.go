package writer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"exchangecatalog/models"
)

// ExportedFile describes one parquet object written by an export run.
type ExportedFile struct {
	Key         string          `json:"key"`
	URI         string          `json:"uri,omitempty"`
	FileSize    int64           `json:"file_size_in_bytes"`
	RecordCount int             `json:"record_count"`
	Vendor      string          `json:"vendor"`
	DataType    models.DataType `json:"data_type"`
	// AvgCoverage is the mean required coverage of the batch's records.
	AvgCoverage float64 `json:"avg_coverage_required"`
}

// Manifest lists every file of one export run so downstream jobs can pick
// up a complete run instead of listing the bucket.
type Manifest struct {
	RunID       string         `json:"run_id"`
	Version     string         `json:"version"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Files       []ExportedFile `json:"files"`
	Records     int            `json:"records"`

	mu sync.Mutex
}

func NewManifest(version string) *Manifest {
	return &Manifest{RunID: uuid.NewString(), Version: version, StartedAt: time.Now().UTC(), Files: []ExportedFile{}}
}

// Add records b as written to key. uri is empty when nothing was uploaded.
func (m *Manifest) Add(b Batch, key, uri string, size int) {
	var sum float64
	for _, rec := range b.Records {
		sum += rec.Meta.CoverageRequired
	}
	f := ExportedFile{
		Key:         key,
		URI:         uri,
		FileSize:    int64(size),
		RecordCount: len(b.Records),
		Vendor:      b.Vendor,
		DataType:    b.DataType,
	}
	if len(b.Records) > 0 {
		f.AvgCoverage = sum / float64(len(b.Records))
	}

	m.mu.Lock()
	m.Files = append(m.Files, f)
	m.Records += f.RecordCount
	m.mu.Unlock()
}

// Key is the manifest's own object key under prefix.
func (m *Manifest) Key(prefix string) string {
	return path.Join(prefix, "_manifests", m.RunID+".json")
}

// Encode stamps the completion time and returns the manifest as JSON.
func (m *Manifest) Encode() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompletedAt.IsZero() {
		m.CompletedAt = time.Now().UTC()
	}
	return jsonAPI.MarshalIndent(m, "", "  ")
}

// WriteFile encodes the manifest to dir under its key and returns the path.
func (m *Manifest) WriteFile(dir, prefix string) (string, []byte, error) {
	data, err := m.Encode()
	if err != nil {
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	dest := filepath.Join(dir, filepath.FromSlash(m.Key(prefix)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", nil, fmt.Errorf("create manifest directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("write manifest: %w", err)
	}
	return dest, data, nil
}
