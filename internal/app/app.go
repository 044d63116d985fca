// Package app wires the campaign engine from configuration. The server and
// worker binaries share it so both run against the same stores and
// services.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
	"github.com/ignite/campaign-engine/internal/repository/dynamo"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/service/audience"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/dispatch"
	"github.com/ignite/campaign-engine/internal/service/ledger"
	"github.com/ignite/campaign-engine/internal/service/metrics"
	"github.com/ignite/campaign-engine/internal/service/sending"
	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/worker"
)

// stores groups the repository implementations for one backend.
type stores struct {
	campaigns   campaign.Repository
	checkpoints campaign.CheckpointStore
	contacts    audience.Directory
	events      ledger.Store
	metrics     metrics.Store
	unsubscribe unsubscribe.Repository
}

// App holds every wired component.
type App struct {
	Config *config.Config
	DB     *sql.DB       // nil on the in-memory backend
	Redis  *redis.Client // nil when Redis is not configured
	Memory *memory.Store // non-nil on the in-memory backend

	Checkpoints campaign.CheckpointStore
	Campaigns   *campaign.Service
	Ledger      *ledger.Ledger
	Scheduler   *dispatch.Scheduler
	Metrics     *metrics.Service
	Unsubscribe *unsubscribe.Service
	Tokens      *unsubtoken.Codec
	Provider    sending.Provider

	// SQS is set when an unsubscribe queue is configured.
	SQS tracking.SQSAPI
}

// New builds the application. Close releases its connections.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	st, err := a.stores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Tokens, err = newCodec(cfg.Unsubscribe)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Provider, err = newProvider(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Checkpoints = st.checkpoints
	a.Campaigns = campaign.NewService(st.campaigns)
	a.Ledger = ledger.New(st.events)
	a.Metrics = metrics.NewService(st.metrics, a.Ledger)
	a.Unsubscribe = unsubscribe.NewService(st.unsubscribe, a.Tokens, a.Ledger)

	var limiter dispatch.Limiter
	if a.Redis != nil {
		limiter = worker.NewRateLimiter(a.Redis, "dispatch:"+cfg.Mail.Provider, cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
	} else {
		limiter = worker.NewLocalLimiter(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
	}

	a.Scheduler = dispatch.NewScheduler(dispatch.Deps{
		Campaigns:   a.Campaigns,
		Checkpoints: st.checkpoints,
		Audience:    audience.NewResolver(st.contacts),
		Provider:    a.Provider,
		Events:      a.Ledger,
		Renderer:    sending.NewRenderer(cfg.Mail.FooterHTML),
		Tokens:      a.Tokens,
		Limiter:     limiter,
		Locks:       distlock.NewFactory(a.Redis, a.DB, cfg.Dispatch.LockTTL()),
	}, dispatch.Config{
		BatchSize:           cfg.Dispatch.BatchSize,
		BatchDelay:          cfg.Dispatch.BatchDelay(),
		Workers:             cfg.Dispatch.Workers,
		MaxRateLimitRetries: cfg.Dispatch.MaxRateLimitRetries,
		LockTTL:             cfg.Dispatch.LockTTL(),
		FromName:            cfg.Mail.FromName,
		FromEmail:           cfg.Mail.FromEmail,
		ReplyTo:             cfg.Mail.ReplyTo,
		UnsubscribeBaseURL:  cfg.Unsubscribe.BaseURL,
	})

	logger.Info("[app] initialized",
		"database", a.DB != nil, "redis", a.Redis != nil, "ledger", cfg.Ledger.Backend,
		"provider", string(a.Provider.Type()), "provider_configured", sending.IsConfigured(a.Provider))
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
		a.DB = db

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	if cfg.Tracking.SQSQueueURL != "" {
		awsCfg, err := loadAWS(ctx, cfg.Tracking.SQSRegion, cfg.SES.Region)
		if err != nil {
			return err
		}
		a.SQS = sqs.NewFromConfig(awsCfg)
	}
	return nil
}

func (a *App) stores(ctx context.Context) (stores, error) {
	var st stores
	if a.DB == nil {
		a.Memory = memory.New()
		st = stores{
			campaigns:   a.Memory,
			checkpoints: a.Memory,
			contacts:    a.Memory,
			events:      a.Memory,
			metrics:     a.Memory,
			unsubscribe: a.Memory,
		}
	} else {
		campaigns := postgres.NewCampaignRepo(a.DB)
		st = stores{
			campaigns:   campaigns,
			checkpoints: campaigns,
			contacts:    postgres.NewContactRepo(a.DB),
			events:      postgres.NewEventRepo(a.DB),
			metrics:     postgres.NewMetricsRepo(a.DB),
			unsubscribe: postgres.NewUnsubscribeRepo(a.DB),
		}
	}

	switch a.Config.Ledger.Backend {
	case "dynamo":
		awsCfg, err := loadAWS(ctx, a.Config.Ledger.DynamoRegion, a.Config.SES.Region)
		if err != nil {
			return st, err
		}
		st.events = dynamo.NewLedger(dynamodb.NewFromConfig(awsCfg), a.Config.Ledger.DynamoTable)
	case "memory":
		if a.Memory == nil {
			return st, errors.New("memory ledger requires the in-memory store; unset DATABASE_URL or choose postgres or dynamo")
		}
	case "postgres":
		if a.DB == nil {
			return st, errors.New("postgres ledger requires DATABASE_URL")
		}
	default:
		return st, fmt.Errorf("unknown ledger backend %q", a.Config.Ledger.Backend)
	}
	return st, nil
}

// Close releases database and Redis connections.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}

// UnsubscribeSink returns the queue publisher when SQS is configured and
// the inline service otherwise.
func (a *App) UnsubscribeSink() tracking.Sink {
	if a.SQS != nil {
		return tracking.NewPublisher(a.SQS, a.Config.Tracking.SQSQueueURL)
	}
	return tracking.NewDirectSink(a.Unsubscribe)
}

func newProvider(ctx context.Context, cfg *config.Config) (sending.Provider, error) {
	switch cfg.Mail.Provider {
	case "log":
		return worker.NewLogProvider(), nil
	case "ses":
		return worker.NewSESProvider(ctx, worker.SESConfig{
			AccessKey:             cfg.SES.AccessKey,
			SecretKey:             cfg.SES.SecretKey,
			Region:                cfg.SES.Region,
			ConfigurationSet:      cfg.SES.ConfigurationSet,
			UseDefaultCredentials: cfg.SES.UseDefaultCredentials,
		}), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}
}

// newCodec builds the unsubscribe token codec. Without a configured key a
// random one is used, so links stop verifying after a restart.
func newCodec(cfg config.UnsubscribeConfig) (*unsubtoken.Codec, error) {
	key := cfg.SigningKey
	if key == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		key = hex.EncodeToString(buf)
		logger.Warn("[app] UNSUBSCRIBE_SIGNING_KEY not set; using an ephemeral key")
	}
	return unsubtoken.NewCodec(key, cfg.TTL())
}

func loadAWS(ctx context.Context, regions ...string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	for _, r := range regions {
		if r != "" {
			opts = append(opts, awsconfig.WithRegion(r))
			break
		}
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
