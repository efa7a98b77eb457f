package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billinghttp "github.com/dreamforge-ai/dreamforge/modules/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/billing"
	"github.com/dreamforge-ai/dreamforge/pkg/config"
	"github.com/dreamforge-ai/dreamforge/pkg/email"
	"github.com/dreamforge-ai/dreamforge/pkg/httpserver"
	"github.com/dreamforge-ai/dreamforge/pkg/logger"
	"github.com/dreamforge-ai/dreamforge/pkg/pg"
	"github.com/dreamforge-ai/dreamforge/pkg/quota"
	"github.com/dreamforge-ai/dreamforge/pkg/redis"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"dreamforge-billing"`
	PlansPath   string `env:"PLANS_PATH" envDefault:"config/plans.yaml"`

	SweepInterval time.Duration `env:"RECONCILE_SWEEP_INTERVAL" envDefault:"15m"`
	SweepGrace    time.Duration `env:"RECONCILE_SWEEP_GRACE" envDefault:"10m"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, appCfg.ServiceName))
	logger.SetAsDefault(log)

	// Storage.
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// Plan catalog.
	catalog, err := billing.NewCatalog(ctx, billing.NewFileSource(appCfg.PlansPath))
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	// Payment provider.
	var stripeCfg billing.StripeConfig
	config.MustLoad(&stripeCfg)
	provider, err := billing.NewStripeProvider(stripeCfg)
	if err != nil {
		return fmt.Errorf("stripe: %w", err)
	}

	// Dunning emails: real sender in deployed environments, files locally.
	var emailCfg email.Config
	config.MustLoad(&emailCfg)
	var sender email.EmailSender
	if emailCfg.PostmarkServerToken != "" {
		sender = email.MustNewPostmarkClient(emailCfg)
	} else {
		sender = email.NewDevSender(emailCfg.DevOutputDir)
		log.Info("postmark not configured, writing emails to disk",
			slog.String("dir", emailCfg.DevOutputDir))
	}

	// Billing engine.
	store := billing.NewPgStore(pool)
	users := billing.NewPgUserStore(pool)
	projector := billing.NewProjector(store, users, catalog, log)
	notifier := billing.NewEmailNotifier(users, sender, log)
	syncSvc := billing.NewSync(store, users, catalog, provider, projector, log,
		billing.WithNotifier(notifier))
	reconciler := billing.NewReconciler(syncSvc, store, users, provider, log)
	enforcer := quota.NewEnforcer(store, catalog, quota.NewRedisLedger(redisClient), log)

	// Background repair of users whose checkout never produced a webhook.
	sweeper := billing.NewSweeper(reconciler, users, appCfg.SweepInterval, appCfg.SweepGrace, log)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	// HTTP surface.
	var moduleCfg billinghttp.Config
	config.MustLoad(&moduleCfg)
	mod := billinghttp.NewModule(moduleCfg, syncSvc, reconciler, provider, store, users, catalog, enforcer, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool), redis.Healthcheck(redisClient)))
	r.Mount("/", mod.Router())

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("server listening", slog.String("addr", httpCfg.Addr))
		}),
		httpserver.WithStopHook(func(l *slog.Logger) {
			stopSweep()
			projector.Wait()
			l.Info("server stopped")
		}),
	)

	if err := srv.Run(ctx, r); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
