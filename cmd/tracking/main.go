package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
	"github.com/ignite/campaign-engine/internal/tracking"
)

// The tracking edge only verifies tokens and queues opt-outs; it needs no
// database access.
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

	if cfg.Tracking.SQSQueueURL == "" {
		logger.Error("SQS_UNSUBSCRIBE_QUEUE_URL is required")
		os.Exit(1)
	}
	codec, err := unsubtoken.NewCodec(cfg.Unsubscribe.SigningKey, cfg.Unsubscribe.TTL())
	if err != nil {
		logger.Error("invalid unsubscribe config", "error", err)
		os.Exit(1)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Tracking.SQSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Tracking.SQSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		logger.Error("aws config", "error", err)
		os.Exit(1)
	}

	pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Tracking.SQSQueueURL)
	handler := middleware.RealIP(tracking.NewHandler(codec, pub).Routes())

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Tracking.Port),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
