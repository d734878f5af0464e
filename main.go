package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"

	"exchangecatalog/config"
	"exchangecatalog/internal/api"
	"exchangecatalog/internal/engine"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/internal/store"
	"exchangecatalog/logger"
)

const usage = `usage: exchangecatalog [-config path] <command> [flags]

commands:
  normalize  normalize one raw message read from -file or stdin
  coverage   print or write per-vendor coverage and the leader board
  seed       write the seed catalog into the configured database
  validate   load every vendor's rule sets and report mapping errors
  sample     capture one-off payloads from config/targets.yml
  export     sample, normalize and export to parquet, S3 and Redis
  serve      run the HTTP API
`

// app bundles what every command needs.
type app struct {
	cfg      *config.Config
	log      *logger.Log
	store    store.Store
	engine   *engine.Engine
	recorder *metrics.Recorder
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"command":     cmd,
	}).Debug("starting exchangecatalog")

	if cmd == "seed" {
		err = runSeed(ctx, cfg, log, args)
	} else {
		err = run(ctx, cfg, log, cmd, args)
	}
	if err != nil {
		log.WithComponent("main").WithError(err).Error(cmd + " failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log, cmd string, args []string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.store.Close()

	switch cmd {
	case "normalize":
		return a.normalize(ctx, args)
	case "coverage":
		return a.coverage(ctx, args)
	case "validate":
		return a.validate(ctx, args)
	case "sample":
		return a.sample(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "serve":
		return a.serve(ctx, args)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func storeOption(cfg config.StoreConfig) store.Option {
	return store.Option{
		Driver:   cfg.Driver,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
		Params:   cfg.Params,
		DSN:      cfg.DSN,
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if strings.EqualFold(cfg.Store.Driver, store.DriverMemory) {
		catalog, err := store.LoadSeed(cfg.Catalog.SeedPath)
		if err != nil {
			return nil, err
		}
		return store.MemoryStoreFromSeed(catalog)
	}
	return store.OpenGormStore(storeOption(cfg.Store))
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Log) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: st}
	opts := []engine.Option{engine.WithLogger(log)}
	if cfg.Metrics.Prometheus {
		a.recorder = metrics.NewRecorder(log)
		opts = append(opts, engine.WithObserver(a.recorder))
	}
	a.engine = engine.New(st, opts...)

	if cfg.Engine.ValidateOnStart {
		if err := a.validateAll(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) validateAll(ctx context.Context) error {
	vendors, err := a.engine.Vendors(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, v := range vendors {
		n, err := a.engine.Validate(ctx, v)
		if err != nil {
			return fmt.Errorf("vendor %s: %w", v, err)
		}
		total += n
	}
	a.log.WithComponent("engine").WithFields(logger.Fields{
		"vendors":   len(vendors),
		"rule_sets": total,
	}).Info("catalog validated")
	return nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.API.Address, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if a.cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: a.cfg.Profiling.ApplicationName,
			ServerAddress:   a.cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"env": config.AppEnvironment(), "version": a.cfg.App.Version},
			Logger:          a.log.Logger,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start failed: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	var sinks []logger.ReportSink
	if cw := a.cfg.Metrics.CloudWatch; cw.Enabled {
		metrics.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
		sinks = append(sinks, metrics.PublishReport)
	}
	logger.StartReport(ctx, a.log, a.cfg.Metrics.ReportInterval, sinks...)

	apiCfg := a.cfg.API
	apiCfg.Address = *addr
	srv := api.NewServer(apiCfg, a.engine, a.recorder, a.log, a.cfg.App.Version)

	start := time.Now()
	err := srv.Run(ctx)
	a.log.WithComponent("main").WithFields(logger.Fields{
		"uptime": time.Since(start).Round(time.Second).String(),
	}).Info("exchangecatalog stopped")
	return err
}
