package writer

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"exchangecatalog/logger"
	"exchangecatalog/models"
)

// CoverageSource is satisfied by the engine and by every store.
type CoverageSource interface {
	Vendors(ctx context.Context) ([]string, error)
	CoverageStats(ctx context.Context, vendor string) (map[models.DataType]models.CoverageStats, error)
}

type VendorCoverage struct {
	Vendor    string                                   `json:"vendor" yaml:"vendor"`
	DataTypes map[models.DataType]models.CoverageStats `json:"data_types" yaml:"data_types"`
}

type LeaderboardEntry struct {
	Rank            int     `json:"rank" yaml:"rank"`
	Vendor          string  `json:"vendor" yaml:"vendor"`
	CoveragePercent float64 `json:"coverage_percent" yaml:"coverage_percent"`
}

// CoverageReport summarizes ticker mapping coverage across the catalog.
type CoverageReport struct {
	GeneratedAt           time.Time          `json:"generated_at" yaml:"generated_at"`
	TotalVendors          int                `json:"total_vendors" yaml:"total_vendors"`
	AverageTickerCoverage float64            `json:"average_ticker_coverage" yaml:"average_ticker_coverage"`
	Leaders               []LeaderboardEntry `json:"leaders" yaml:"leaders"`
	Vendors               []VendorCoverage   `json:"vendors" yaml:"vendors"`
}

// BuildCoverageReport collects coverage for every vendor. The leaderboard
// ranks ticker coverage, highest first, and holds at most limit entries.
func BuildCoverageReport(ctx context.Context, src CoverageSource, limit int) (CoverageReport, error) {
	if limit <= 0 {
		limit = 5
	}
	vendors, err := src.Vendors(ctx)
	if err != nil {
		return CoverageReport{}, fmt.Errorf("list vendors: %w", err)
	}
	sort.Strings(vendors)

	report := CoverageReport{GeneratedAt: time.Now().UTC(), TotalVendors: len(vendors)}
	var board []LeaderboardEntry
	var sum float64
	for _, v := range vendors {
		stats, err := src.CoverageStats(ctx, v)
		if err != nil {
			return CoverageReport{}, fmt.Errorf("coverage for %s: %w", v, err)
		}
		report.Vendors = append(report.Vendors, VendorCoverage{Vendor: v, DataTypes: stats})
		pct := stats[models.DataTypeTicker].CoveragePercent
		sum += pct
		board = append(board, LeaderboardEntry{Vendor: v, CoveragePercent: pct})
	}

	sort.SliceStable(board, func(i, j int) bool {
		return board[i].CoveragePercent > board[j].CoveragePercent
	})
	if len(board) > limit {
		board = board[:limit]
	}
	for i := range board {
		board[i].Rank = i + 1
	}
	report.Leaders = board
	if len(vendors) > 0 {
		report.AverageTickerCoverage = math.Round(sum/float64(len(vendors))*10) / 10
	}
	return report, nil
}

// WriteCoverageReport encodes r as "json" or "yaml".
func WriteCoverageReport(w io.Writer, format string, r CoverageReport) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := jsonAPI.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported report format %q", format)
}

// WriteCoverageReportFile picks the format from the file extension.
func WriteCoverageReportFile(path string, r CoverageReport) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteCoverageReport(f, format, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.GetLogger().WithComponent("report").WithFields(logger.Fields{
		"path":    path,
		"vendors": r.TotalVendors,
		"average": r.AverageTickerCoverage,
	}).Info("coverage report written")
	return nil
}
