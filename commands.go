package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"exchangecatalog/config"
	"exchangecatalog/internal/engine"
	"exchangecatalog/internal/store"
	"exchangecatalog/logger"
	"exchangecatalog/models"
	"exchangecatalog/processor"
	"exchangecatalog/reader"
	"exchangecatalog/writer"
)

// varsFlag collects repeated -var key=value flags.
type varsFlag map[string]string

func (v varsFlag) String() string {
	parts := make([]string, 0, len(v))
	for k, val := range v {
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, ",")
}

func (v varsFlag) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[k] = val
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) normalize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	vendor := fs.String("vendor", "", "vendor name")
	dataType := fs.String("type", "ticker", "data type: ticker, order_book, trade or candle")
	source := fs.String("source", "rest", "source type: rest or websocket")
	file := fs.String("file", "-", "raw message file, - for stdin")
	vars := varsFlag{}
	fs.Var(vars, "var", "path placeholder as key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dt, err := models.ParseDataType(*dataType)
	if err != nil {
		return err
	}
	src, err := models.ParseRequestSource(*source)
	if err != nil {
		return err
	}

	var raw []byte
	if *file == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*file)
	}
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	var opts []engine.CallOption
	if len(vars) > 0 {
		opts = append(opts, engine.WithVars(vars))
	}
	recs, err := a.engine.NormalizeJSON(ctx, raw, *vendor, dt, src, opts...)
	if err != nil {
		return err
	}
	if len(recs) == 1 {
		return printJSON(os.Stdout, recs[0])
	}
	return printJSON(os.Stdout, recs)
}

func (a *app) coverage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("coverage", flag.ContinueOnError)
	vendor := fs.String("vendor", "", "single vendor; empty reports the whole catalog")
	format := fs.String("format", "json", "output format: json or yaml")
	limit := fs.Int("limit", 5, "leader board size")
	out := fs.String("out", "", "write the report to this file; the extension picks the format")
	save := fs.Bool("save", false, "write the report to writer.report_path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *vendor != "" {
		stats, err := a.engine.CoverageStats(ctx, *vendor)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, map[string]any{"vendor": *vendor, "coverage": stats})
	}

	report, err := writer.BuildCoverageReport(ctx, a.engine, *limit)
	if err != nil {
		return err
	}
	path := *out
	if path == "" && *save {
		path = a.cfg.Writer.ReportPath
	}
	if path != "" {
		if err := writer.WriteCoverageReportFile(path, report); err != nil {
			return err
		}
		a.log.WithComponent("coverage").WithFields(logger.Fields{
			"path":    path,
			"vendors": report.TotalVendors,
			"average": report.AverageTickerCoverage,
		}).Info("coverage report written")
		return nil
	}
	return writer.WriteCoverageReport(os.Stdout, *format, report)
}

func (a *app) validate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	vendor := fs.String("vendor", "", "single vendor; empty validates every vendor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *vendor == "" {
		return a.validateAll(ctx)
	}
	n, err := a.engine.Validate(ctx, *vendor)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", engine.ErrUnknownVendor, *vendor)
	}
	a.log.WithComponent("engine").WithFields(logger.Fields{"vendor": *vendor, "rule_sets": n}).Info("vendor validated")
	return nil
}

func (a *app) loadTargets(vendor string) ([]config.Target, error) {
	targets, err := config.LoadTargets(a.cfg.Reader.TargetsPath)
	if err != nil {
		return nil, err
	}
	if vendor != "" {
		return targets.ForVendor(vendor), nil
	}
	return targets.Targets, nil
}

func (a *app) sample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	vendor := fs.String("vendor", "", "only capture this vendor's targets")
	dir := fs.String("dir", "samples", "directory for captured payloads")
	if err := fs.Parse(args); err != nil {
		return err
	}

	targets, err := a.loadTargets(*vendor)
	if err != nil {
		return err
	}
	msgs, err := reader.NewClient(a.cfg.Reader).SampleAll(ctx, targets)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return fmt.Errorf("create sample directory: %w", err)
	}
	for _, m := range msgs {
		name := fmt.Sprintf("%s_%s_%s_%s.json", m.Vendor, m.DataType, m.Source, m.ID)
		if err := os.WriteFile(filepath.Join(*dir, name), m.Payload, 0o644); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	a.log.WithComponent("sample").WithFields(logger.Fields{"messages": len(msgs), "dir": *dir}).Info("samples captured")
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	vendor := fs.String("vendor", "", "only export this vendor's targets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := a.log.WithComponent("export")

	targets, err := a.loadTargets(*vendor)
	if err != nil {
		return err
	}
	msgs, err := reader.NewClient(a.cfg.Reader).SampleAll(ctx, targets)
	if err != nil {
		return err
	}
	results, err := processor.NormalizeMessages(ctx, a.cfg.Processor, a.engine, msgs)
	if err != nil {
		return err
	}

	var records []*models.NormalizedRecord
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		records = append(records, res.Records...)
	}
	log.WithFields(logger.Fields{"messages": len(msgs), "records": len(records), "failed": failed}).Info("samples normalized")
	if len(records) == 0 {
		return errors.New("no records to export")
	}

	if a.cfg.Writer.Parquet.Enabled {
		if err := a.exportParquet(ctx, records); err != nil {
			return err
		}
	}
	if a.cfg.Writer.Redis.Enabled {
		pub := writer.NewRedisPublisher(a.cfg.Writer.Redis)
		defer pub.Close()
		if err := pub.Publish(ctx, records...); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) exportParquet(ctx context.Context, records []*models.NormalizedRecord) error {
	pw := writer.NewParquetWriter(a.cfg.Writer.Parquet, a.cfg.Writer.Partitioning)
	defer pw.Report()

	var uploader *writer.S3Uploader
	if a.cfg.Storage.S3.Enabled {
		var err error
		uploader, err = writer.NewS3Uploader(ctx, a.cfg.Storage.S3, a.cfg.App.Version)
		if err != nil {
			return err
		}
		defer uploader.Report()
	}

	manifest := writer.NewManifest(a.cfg.App.Version)
	for _, b := range writer.GroupBatches(records) {
		key, data, err := pw.Export(b)
		if err != nil {
			return err
		}
		var uri string
		if uploader != nil {
			if err := uploader.Upload(ctx, key, data, a.cfg.Writer.Parquet.Compression); err != nil {
				return err
			}
			uri = uploader.URI(key)
		}
		manifest.Add(b, key, uri, len(data))
	}

	prefix := a.cfg.Writer.Partitioning.Prefix
	dest, data, err := manifest.WriteFile(a.cfg.Writer.Parquet.Dir, prefix)
	if err != nil {
		return err
	}
	if uploader != nil {
		if err := uploader.Upload(ctx, manifest.Key(prefix), data, "none"); err != nil {
			return err
		}
	}
	a.log.WithComponent("export").WithFields(logger.Fields{
		"run_id":   manifest.RunID,
		"files":    len(manifest.Files),
		"records":  manifest.Records,
		"manifest": dest,
	}).Info("export completed")
	return nil
}

// runSeed writes the seed file into the configured database. It runs before
// an engine exists since the catalog may still be empty.
func runSeed(ctx context.Context, cfg *config.Config, log *logger.Log, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	path := fs.String("file", cfg.Catalog.SeedPath, "seed catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.EqualFold(cfg.Store.Driver, store.DriverMemory) {
		return errors.New("seed needs store.driver postgres or sqlite")
	}

	catalog, err := store.LoadSeed(*path)
	if err != nil {
		return err
	}
	st, err := store.OpenGormStore(storeOption(cfg.Store))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := store.Seed(ctx, st.DB(), catalog); err != nil {
		return err
	}
	log.WithComponent("seed").WithFields(logger.Fields{
		"file":    *path,
		"vendors": len(catalog.Vendors),
		"driver":  cfg.Store.Driver,
	}).Info("catalog seeded")
	return nil
}
