// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/api"
	"github.com/JakeFAU/stockbot/internal/chat"
	"github.com/JakeFAU/stockbot/internal/clock/system"
	"github.com/JakeFAU/stockbot/internal/config"
	"github.com/JakeFAU/stockbot/internal/id/uuid"
	"github.com/JakeFAU/stockbot/internal/monitor"
	"github.com/JakeFAU/stockbot/internal/notify"
	"github.com/JakeFAU/stockbot/internal/pacing"
	"github.com/JakeFAU/stockbot/internal/probe"
	"github.com/JakeFAU/stockbot/internal/scheduler"
	"github.com/JakeFAU/stockbot/internal/stock"
	"github.com/JakeFAU/stockbot/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store     stock.Store
	prober    *probe.Prober
	renderer  probe.Renderer
	notifier  *notify.Async
	cycle     *monitor.Cycle
	scheduler *scheduler.Scheduler
	tracker   *tracker.Service
	apiServer *api.Server
	chat      *chat.Handler

	bot             *tgbotapi.BotAPI
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	storeClose      func()
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("renderer", cfg.Probe.Renderer),
		zap.Strings("notifiers", cfg.Notify.Backends),
	)
	clock := system.New()

	if err = setupStore(ctx, app, clock); err != nil {
		return app, err
	}
	snapshots, err := setupSnapshots(ctx, app)
	if err != nil {
		return app, err
	}
	app.renderer = newRenderer(cfg, logger.Named("renderer"))
	app.prober = probe.New(app.renderer, snapshots, probe.Config{
		Timeout: time.Duration(cfg.Probe.TimeoutSeconds) * time.Second,
	}, logger.Named("probe"))

	if err = setupTelegram(app); err != nil {
		return app, err
	}
	sink, err := setupNotifier(ctx, app)
	if err != nil {
		return app, err
	}
	app.notifier = notify.NewAsync(sink, notify.AsyncConfig{QueueDepth: cfg.Notify.QueueDepth}, logger.Named("notify"))

	app.cycle = monitor.New(
		app.store,
		app.prober,
		app.notifier,
		pacing.New(cfg.Pacing()),
		clock,
		uuid.New(),
		logger.Named("monitor"),
	)
	app.scheduler, err = scheduler.New(app.cycle, scheduler.Config{
		Interval:     cfg.CheckInterval(),
		InitialDelay: cfg.InitialDelay(),
	}, logger.Named("scheduler"))
	if err != nil {
		return app, fmt.Errorf("scheduler init failed: %w", err)
	}

	validator := probe.NewValidator(cfg.Checker.SiteHost, cfg.Checker.PathMarker)
	app.tracker = tracker.New(app.store, app.prober, validator, app.scheduler, logger.Named("tracker"))
	app.apiServer = api.NewServer(app.tracker, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, logger.Named("api"))

	// The chat handler owns the update stream and stops it on shutdown.
	if app.bot != nil && cfg.Telegram.CommandsEnabled {
		app.chat = chat.New(app.bot, app.tracker, 0, logger.Named("chat"))
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Tracker exposes the front-end operations.
func (a *App) Tracker() *tracker.Service {
	return a.tracker
}

// RunOnce performs a single monitor cycle. Queued notifications are
// delivered by Close.
func (a *App) RunOnce(ctx context.Context) monitor.Summary {
	return a.cycle.Run(ctx)
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	chatDone := make(chan struct{})
	if a.chat != nil {
		go func() {
			defer close(chatDone)
			a.logger.Info("telegram command handler started")
			if err := a.chat.Run(ctx); err != nil {
				a.logger.Error("telegram command handler stopped", zap.Error(err))
			}
		}()
	} else {
		close(chatDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-chatDone
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.storeClose != nil {
		a.storeClose()
	}
}
