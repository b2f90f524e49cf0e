package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/tagcache/internal/backend"
	"github.com/wudi/tagcache/internal/cache"
	"github.com/wudi/tagcache/internal/config"
	"github.com/wudi/tagcache/internal/logging"
	"github.com/wudi/tagcache/internal/metrics"
	"github.com/wudi/tagcache/internal/server"
	"github.com/wudi/tagcache/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/tagcache.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tagcache %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, level, err := logging.New(loggingOptions(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting tagcache",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Strings("redis", cfg.Redis.Addresses),
		zap.String("address", cfg.Server.Address),
	)

	if err := run(cfg, *configPath, level); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, level zap.AtomicLevel) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracer.Close(shutdownCtx); err != nil {
			logging.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	client := backend.NewClient(cfg.Redis)
	defer client.Close()
	if err := backend.WaitReady(ctx, client, cfg.Redis.ReadyTimeout); err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}

	var (
		collector *metrics.Collector
		gatherer  prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(reg, cfg.Metrics.Namespace)
		gatherer = reg
	}

	engine := cache.NewEngine(client, cache.EngineConfig{
		ScanCount: cfg.Cache.ScanCount,
		Metrics:   collector,
		Tracer:    tracer.Tracer(),
	})

	srv := server.New(engine, server.Options{
		Server:      cfg.Server,
		OpTimeout:   cfg.Cache.OpTimeout,
		Metrics:     collector,
		Gatherer:    gatherer,
		MetricsPath: cfg.Metrics.Path,
		Tracer:      tracer,
	})

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	watcher.OnChange(func(_, next *config.Config) {
		lvl := logging.ParseLevel(next.Logging.Level)
		if lvl != level.Level() {
			level.SetLevel(lvl)
			logging.Info("Log level changed", zap.String("level", lvl.String()))
		}
	})
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return watcher.Stop()
	})
	return g.Wait()
}

func loggingOptions(cfg config.LoggingConfig) logging.Options {
	return logging.Options{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
		Rotation: logging.RotationOptions{
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
			LocalTime:  cfg.Rotation.LocalTime,
		},
	}
}
