package server

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/config"
	"github.com/JakeFAU/stockbot/internal/notify"
	gcppublisher "github.com/JakeFAU/stockbot/internal/notify/pubsub"
	"github.com/JakeFAU/stockbot/internal/notify/telegram"
	"github.com/JakeFAU/stockbot/internal/probe"
	"github.com/JakeFAU/stockbot/internal/snapshot"
	gcssnapshot "github.com/JakeFAU/stockbot/internal/snapshot/gcs"
	localsnapshot "github.com/JakeFAU/stockbot/internal/snapshot/local"
	"github.com/JakeFAU/stockbot/internal/stock"
	memorystore "github.com/JakeFAU/stockbot/internal/store/memory"
	pgstore "github.com/JakeFAU/stockbot/internal/store/postgres"
	redisstore "github.com/JakeFAU/stockbot/internal/store/redis"
)

func setupStore(ctx context.Context, app *App, clock stock.Clock) error {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case "redis":
		st, err := redisstore.New(ctx, redisstore.Config{URL: cfg.RedisURL}, clock)
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		app.store = st
		app.storeClose = func() {
			if err := st.Close(); err != nil {
				app.logger.Warn("redis close failed", zap.Error(err))
			}
		}
		app.logger.Info("using redis store")
	case "postgres":
		st, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeMinutes) * time.Minute,
		}, clock)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = st
		app.storeClose = st.Close
		if cfg.Postgres.Migrate {
			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		app.logger.Info("using postgres store")
	default:
		app.logger.Warn("using in-memory store; tracked products are lost on restart")
		app.store = memorystore.New(clock)
	}
	return nil
}

func setupSnapshots(ctx context.Context, app *App) (*snapshot.Recorder, error) {
	cfg := app.cfg.Snapshot
	switch cfg.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcssnapshot.New(app.storage, gcssnapshot.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs snapshot store init failed: %w", err)
		}
		app.logger.Info("saving unclassified pages to GCS", zap.String("bucket", cfg.Bucket))
		return snapshot.NewRecorder(blobs, cfg.Prefix), nil
	case "local":
		blobs, err := localsnapshot.New(localsnapshot.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local snapshot store init failed: %w", err)
		}
		app.logger.Info("saving unclassified pages locally", zap.String("path", cfg.BaseDir))
		return snapshot.NewRecorder(blobs, cfg.Prefix), nil
	default:
		return nil, nil
	}
}

func newRenderer(cfg *config.Config, logger *zap.Logger) probe.Renderer {
	if cfg.Probe.Renderer == "static" {
		logger.Info("using static renderer; pages that need JavaScript will classify as unknown")
		return probe.NewStaticRenderer(probe.StaticConfig{
			UserAgent: cfg.Probe.UserAgent,
			Timeout:   time.Duration(cfg.Probe.NavTimeoutSeconds) * time.Second,
		})
	}
	return probe.NewChromedpRenderer(probe.ChromedpConfig{
		UserAgent:         cfg.Probe.UserAgent,
		ViewportWidth:     cfg.Probe.ViewportWidth,
		ViewportHeight:    cfg.Probe.ViewportHeight,
		NavigationTimeout: time.Duration(cfg.Probe.NavTimeoutSeconds) * time.Second,
		HydrationWait:     time.Duration(cfg.Probe.HydrationWaitMs) * time.Millisecond,
		Pincode:           cfg.Checker.DefaultPincode,
		MaxParallel:       cfg.Probe.MaxParallel,
	}, logger)
}

func setupTelegram(app *App) error {
	token := app.cfg.Telegram.Token
	if token == "" {
		return nil
	}
	endpoint := app.cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return fmt.Errorf("telegram bot init failed: %w", err)
	}
	bot.Debug = false
	app.bot = bot
	app.logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return nil
}

func setupNotifier(ctx context.Context, app *App) (stock.Notifier, error) {
	var sinks notify.Fanout
	for _, backend := range app.cfg.Notify.Backends {
		switch backend {
		case "telegram":
			if app.bot == nil {
				return nil, fmt.Errorf("telegram notifier requires telegram.token")
			}
			sink, err := telegram.New(app.bot, telegram.Config{
				Mode:      telegram.Mode(app.cfg.Notify.Mode),
				ChannelID: app.cfg.Notify.ChannelID,
			}, app.logger.Named("telegram"))
			if err != nil {
				return nil, fmt.Errorf("telegram notifier init failed: %w", err)
			}
			sinks = append(sinks, sink)
		case "pubsub":
			var err error
			app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("pubsub client init failed: %w", err)
			}
			app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
			app.logger.Info("Pub/Sub publisher initialized",
				zap.String("project", app.cfg.PubSub.ProjectID),
				zap.String("topic", app.cfg.PubSub.TopicName),
			)
			sinks = append(sinks, gcppublisher.New(app.pubsubPublisher))
		default:
			sinks = append(sinks, notify.NewLogSink(app.logger.Named("notify_log")))
		}
	}
	if len(sinks) == 0 {
		return notify.NewLogSink(app.logger.Named("notify_log")), nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// BuildProber creates a standalone prober for one-off checks. The returned
// func releases the renderer.
func BuildProber(cfg *config.Config, logger *zap.Logger) (*probe.Prober, func(context.Context) error) {
	renderer := newRenderer(cfg, logger.Named("renderer"))
	p := probe.New(renderer, nil, probe.Config{
		Timeout: time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
	}, logger.Named("probe"))
	return p, renderer.Close
}
