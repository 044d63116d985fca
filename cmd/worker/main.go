package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/campaign-engine/internal/app"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPII)

	// The recovery loop only makes sense against shared storage.
	if cfg.Database.URL == "" {
		logger.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	recovery := worker.NewDispatchRecovery(a.Checkpoints, a.Scheduler, a.Campaigns, worker.DispatchRecoveryConfig{
		Interval:   cfg.Recovery.Interval(),
		StaleAfter: cfg.Recovery.StaleAfter(),
		Policy:     worker.RecoveryPolicy(cfg.Recovery.Policy),
	})
	g.Go(func() error { return recovery.Start(ctx) })

	if a.SQS != nil {
		consumer := tracking.NewConsumer(a.SQS, cfg.Tracking.SQSQueueURL, a.Unsubscribe)
		g.Go(func() error { return consumer.Start(ctx) })
	} else {
		logger.Info("SQS_UNSUBSCRIBE_QUEUE_URL not set; unsubscribe consumer disabled")
	}

	logger.Info("worker running")
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
