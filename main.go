package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketpipe/config"
	"marketpipe/internal/metrics"
	"marketpipe/logger"
	"marketpipe/pipeline"
	"marketpipe/reader"
	"marketpipe/writer"
)

const shutdownTimeout = 30 * time.Second

var _ pipeline.Observer = (*metrics.Collector)(nil)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
		"sources":     cfg.Sources.Enabled(),
	}).Info("starting marketpipe")

	for _, warning := range cfg.CredentialWarnings() {
		entry := log.WithComponent("config").WithField("environment", env)
		if config.IsProductionLike(env) {
			entry.Error(warning)
		} else {
			entry.Warn(warning)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	publisher, err := writer.NewPublisher(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to create streaming publisher")
		os.Exit(1)
	}

	stores, err := writer.NewStores(ctx, cfg, log)
	if err != nil {
		_ = publisher.Close()
		log.WithError(err).Error("failed to open storage")
		os.Exit(1)
	}
	if stores.Primary == nil {
		log.WithComponent("main").Warn("postgres storage disabled; batches will only reach secondary stores")
	}

	collector := metrics.NewCollector(log)
	pipe := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Publisher: publisher,
		Store:     stores.Primary,
		Extra:     stores.Extra,
		Observer:  collector,
		Log:       log,
	})
	if err := pipe.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start pipeline")
		stores.Close()
		_ = publisher.Close()
		os.Exit(1)
	}

	if cfg.Metrics.Prometheus.Enabled {
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Prometheus.ListenAddr); err != nil {
				log.WithComponent("metrics").WithError(err).Error("prometheus endpoint failed")
			}
		}()
	}

	orchestrator := reader.NewOrchestrator(reader.BuildConnectors(cfg, log), pipe, log)
	if err := orchestrator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start connectors")
		pipe.Stop()
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	log.Info("starting graceful shutdown")

	done := make(chan struct{})
	go func() {
		defer close(done)

		log.Info("stopping connectors")
		orchestrator.Stop()

		log.Info("stopping pipeline")
		pipe.Stop()
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.WithField("timeout", shutdownTimeout.String()).Error("shutdown timed out")
	}
	cancel()

	log.WithFields(logger.Fields{"metrics": pipe.Metrics()}).Info("marketpipe stopped")
}
