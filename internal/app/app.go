// Package app wires configuration, infrastructure and the bot into a runnable process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/viper"

	"github.com/Proton-105/hydration-bot/internal/bot"
	"github.com/Proton-105/hydration-bot/internal/domain"
	apperrors "github.com/Proton-105/hydration-bot/internal/errors"
	"github.com/Proton-105/hydration-bot/internal/events"
	"github.com/Proton-105/hydration-bot/internal/health"
	"github.com/Proton-105/hydration-bot/internal/idempotency"
	"github.com/Proton-105/hydration-bot/internal/journal"
	"github.com/Proton-105/hydration-bot/internal/lifecycle"
	"github.com/Proton-105/hydration-bot/internal/middleware"
	"github.com/Proton-105/hydration-bot/internal/presence"
	"github.com/Proton-105/hydration-bot/internal/ratelimit"
	"github.com/Proton-105/hydration-bot/internal/reminder"
	"github.com/Proton-105/hydration-bot/pkg/config"
	"github.com/Proton-105/hydration-bot/pkg/graceful"
	"github.com/Proton-105/hydration-bot/pkg/logger"
	"github.com/Proton-105/hydration-bot/pkg/metrics"
	redisclient "github.com/Proton-105/hydration-bot/pkg/redis"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	healthCheckTimeout    = 3 * time.Second
	collectorInterval     = 10 * time.Second
	ratelimitCleanEvery   = time.Minute
	ratelimitWindowMaxAge = 10 * time.Minute
)

// App owns every long-lived component of the process.
type App struct {
	cfg   *config.Config
	viper *viper.Viper
	log   *logger.Logger

	presence    *presence.Registry
	reminders   *reminder.Registry
	coordinator *lifecycle.Coordinator
	bot         *bot.Bot
	scheduler   *reminder.Scheduler
	checker     *health.Checker
	cleaner     *ratelimit.Cleaner
	shutdown    *lifecycle.Shutdown
}

// New builds the application. A failure here is a startup error and nothing is left running.
// Errors that carry no application code are reported as configuration errors.
func New(ctx context.Context, cfg *config.Config, v *viper.Viper) (*App, error) {
	log := logger.New(cfg.Logger, cfg.Sentry)

	a := &App{
		cfg:         cfg,
		viper:       v,
		log:         log,
		presence:    presence.NewRegistry(),
		reminders:   reminder.NewRegistry(),
		coordinator: lifecycle.NewCoordinator(log.Logger),
		checker:     health.NewChecker(log.Logger, healthCheckTimeout),
		shutdown:    lifecycle.NewShutdown(log.Logger),
	}

	if err := a.build(ctx); err != nil {
		if cerr := a.shutdown.Execute(context.Background()); cerr != nil {
			log.Warn("startup cleanup failed", slog.Any("error", cerr))
		}
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.NewConfigurationError(err)
		}
		return nil, err
	}

	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	log := a.log.Logger

	a.shutdown.Register("logger", func(context.Context) error { return a.log.Close() })

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.AppEnv}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		a.shutdown.Register("sentry", func(context.Context) error {
			sentry.Flush(sentryFlushTimeout)
			return nil
		})
	}
	errHandler := apperrors.NewHandler(log)

	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		client, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisClient = client
		a.checker.AddCheck("redis", health.NewRedisChecker(client))
		a.shutdown.Register("redis", func(context.Context) error { return client.Close() })
	}

	recorder, err := a.openJournal(ctx)
	if err != nil {
		return err
	}

	owners := lo.Map(cfg.Bot.Owners, func(id int64, _ int) domain.UserID { return domain.UserID(id) })

	handler := events.NewHandler(events.Deps{
		Presence:       a.presence,
		Reminders:      a.reminders,
		Shutdown:       a.coordinator,
		Owners:         owners,
		Prefix:         cfg.Bot.Prefix,
		Journal:        recorder,
		JournalTimeout: cfg.Database.WriteTimeout,
		ErrHandler:     errHandler,
	}, log)

	deps := bot.Deps{Events: handler, ErrHandler: errHandler}

	if cfg.RateLimit.Enabled {
		rules, err := ratelimit.NewRules(cfg.RateLimit, owners...)
		if err != nil {
			return fmt.Errorf("rate limit rules: %w", err)
		}

		memory := ratelimit.NewMemoryLimiter(log)
		var limiter ratelimit.Limiter = memory
		if redisClient != nil {
			limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(redisClient, log), memory, log)
		}
		deps.RateLimit = middleware.NewRateLimitMiddleware(limiter, rules, errHandler, log)
		a.cleaner = ratelimit.NewCleaner(redisClient, memory, log, ratelimitCleanEvery, ratelimitWindowMaxAge)
	}

	if redisClient != nil {
		deps.Idempotency = idempotency.NewManager(idempotency.NewRedisStore(redisClient, log), log)
		deps.IdempotencyTTL = cfg.Redis.IdempotencyTTL
	}

	b, err := bot.New(cfg.Bot, log, deps)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	a.bot = b
	a.checker.AddCheck("telegram", b)

	retry := apperrors.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Reminder.Retries

	a.scheduler = reminder.NewScheduler(a.reminders, b.Messenger(), a.coordinator, reminder.SchedulerConfig{
		Tick:            cfg.Reminder.Tick,
		Threshold:       cfg.Reminder.Threshold,
		Payload:         reminder.Payload{Text: cfg.Reminder.Message, ReadAloud: cfg.Reminder.ReadAloud},
		DeliveryTimeout: cfg.Reminder.DeliveryTimeout,
		Concurrency:     cfg.Reminder.Concurrency,
		Retry:           retry,
		JournalTimeout:  cfg.Database.WriteTimeout,
		OnlyPresent:     cfg.Reminder.OnlyPresent,
	}, log,
		reminder.WithJournal(recorder),
		reminder.WithPresence(a.presence),
		reminder.WithErrorHandler(errHandler),
	)
	a.checker.AddCheck("scheduler", health.CheckFunc(func(context.Context) error {
		if state := a.scheduler.State(); state != reminder.StateRunning {
			return fmt.Errorf("scheduler %s", state)
		}
		return nil
	}))

	// Handlers finish first, then the in-flight sweep, then the connection closes.
	b.OnDrain(a.scheduler.Wait)
	a.coordinator.BindGateway(b)

	return nil
}

func (a *App) openJournal(ctx context.Context) (journal.Recorder, error) {
	if !a.cfg.Database.Enabled {
		return journal.Noop{}, nil
	}

	db, err := journal.Open(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	a.shutdown.Register("database", func(context.Context) error { return db.Close() })
	a.checker.AddCheck("database", health.NewDBChecker(db))

	if err := journal.NewMigrator(db, a.log.Logger).Apply(ctx, journal.Migrations()); err != nil {
		return nil, fmt.Errorf("apply journal migrations: %w", err)
	}

	return journal.NewPostgresRecorder(db), nil
}

// Run starts the bot and the reminder loop and blocks until shutdown completes, either because
// ctx ends or an owner issues the quit command. Teardown hooks run last; their failures are
// logged and do not fail a shutdown that was requested.
func (a *App) Run(ctx context.Context) error {
	log := a.log.Logger
	log.Info("starting hydration bot",
		slog.String("env", a.cfg.AppEnv),
		slog.String("prefix", a.cfg.Bot.Prefix),
		slog.Duration("threshold", a.cfg.Reminder.Threshold),
	)

	config.Watch(a.viper, log, a.reload)

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	background := pool.New()
	background.Go(func() {
		metrics.NewRegistryCollector(a.presence, a.reminders, collectorInterval).Run(bgCtx)
	})
	if a.cleaner != nil {
		background.Go(func() { a.cleaner.Run(bgCtx) })
	}
	if a.cfg.Metrics.Enabled {
		srv := graceful.NewServer(log, a.cfg.Metrics.Addr, a.httpHandler(), a.cfg.Metrics.ShutdownTimeout)
		background.Go(func() {
			if err := srv.ListenAndServe(bgCtx); err != nil {
				log.Error("metrics server stopped", slog.Any("error", err))
			}
		})
	}

	if err := a.scheduler.Start(); err != nil {
		cancelBackground()
		background.Wait()
		return fmt.Errorf("start scheduler: %w", err)
	}
	go a.bot.Start()

	select {
	case <-ctx.Done():
		log.Info("termination signal received")
	case <-a.coordinator.Done():
	}

	a.coordinator.RequestShutdown()
	a.coordinator.Wait()
	a.bot.Wait()
	a.scheduler.Wait()
	log.Info("bot stopped", slog.Uint64("ticks", a.scheduler.Ticks()))

	cancelBackground()
	background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown.Execute(shutdownCtx); err != nil {
		log.Warn("teardown incomplete", slog.Any("error", err))
	}

	return nil
}

func (a *App) reload(cfg *config.Config) {
	a.log.SetLevel(cfg.Logger.Level)
	a.scheduler.SetThreshold(cfg.Reminder.Threshold)
}

func (a *App) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", a.checker)
	return middleware.New(a.log.Logger)(mux)
}
