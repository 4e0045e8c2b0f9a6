package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/migrations"
	"github.com/dmitrymomot/pixelmint/modules/billing"
	"github.com/dmitrymomot/pixelmint/modules/events"
	"github.com/dmitrymomot/pixelmint/modules/quota"
	"github.com/dmitrymomot/pixelmint/modules/studio"
	"github.com/dmitrymomot/pixelmint/modules/webhooks"
	"github.com/dmitrymomot/pixelmint/pkg/clientip"
	"github.com/dmitrymomot/pixelmint/pkg/config"
	"github.com/dmitrymomot/pixelmint/pkg/httpserver"
	"github.com/dmitrymomot/pixelmint/pkg/identity"
	"github.com/dmitrymomot/pixelmint/pkg/inference"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/metrics"
	"github.com/dmitrymomot/pixelmint/pkg/notify"
	"github.com/dmitrymomot/pixelmint/pkg/pg"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/ratelimiter"
	"github.com/dmitrymomot/pixelmint/pkg/redis"
	"github.com/dmitrymomot/pixelmint/pkg/requestid"
	"github.com/dmitrymomot/pixelmint/pkg/storage"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/telemetry"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
	"github.com/dmitrymomot/pixelmint/pkg/webhook"
)

func main() {
	cfg := config.MustLoad[appConfig]()

	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, cfg.Service),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			clientip.LoggerExtractor(),
			identity.LoggerExtractor(),
			telemetry.LoggerExtractor(),
		),
	}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(cfg.LogLevel))
	}
	log := logger.New(opts...)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("failed to flush traces", logger.Error(err))
		}
	}()

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx, pool, migrations.FS, cfg.Postgres, log); err != nil {
			return err
		}
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	kv := redis.NewKV(rdb, cfg.Redis.ScanBatchSize)

	m := metrics.New()

	catalog := subscription.DefaultCatalog()
	if cfg.Subscription.PlansFile != "" {
		if catalog, err = subscription.LoadCatalogFile(cfg.Subscription.PlansFile); err != nil {
			return err
		}
	}

	// Identity
	var backend identity.Backend
	if cfg.Identity.SecretKey != "" {
		api, err := identity.NewAPIClient(cfg.Identity, identity.WithAPILogger(log))
		if err != nil {
			return err
		}
		backend = api
	}
	profiles := identity.NewProvider(backend,
		identity.WithCache(cfg.Identity.CacheSize, cfg.Identity.CacheTTL),
		identity.WithLogger(log),
	)
	tokens, err := jwt.New(cfg.JWT)
	if err != nil {
		return err
	}

	// Subscriptions
	provider, err := subscription.NewStripeProvider(cfg.Stripe, catalog)
	if err != nil {
		return err
	}
	records := subscription.NewCachedStore(subscription.NewPgStore(pool), kv, log)
	if cfg.Subscription.RebuildCache {
		n, err := records.Rebuild(ctx)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "subscription cache rebuilt", slog.Int("records", n))
	}
	subs := subscription.NewService(records, provider,
		subscription.WithCatalog(catalog),
		subscription.WithDirectory(profiles),
		subscription.WithNotifier(notify.NewRedisNotifier(rdb, cfg.NotifyPrefix)),
		subscription.WithInfoCache(cfg.Subscription.InfoCacheTTL, cfg.Subscription.InfoJitter),
		subscription.WithLogger(log),
	)

	// Usage limits
	ledger := usage.NewLedger(usage.NewRedisStore(kv),
		usage.WithAudit(usage.NewPgAudit(pool)),
		usage.WithLogger(log),
	)
	limiter := ratelimiter.New(ledger, subs,
		ratelimiter.WithCatalog(catalog),
		ratelimiter.WithConfig(cfg.RateLimit),
		ratelimiter.WithLogger(log),
		ratelimiter.WithFailOpenObserver(m.FailOpen),
		ratelimiter.WithConsumeObserver(func(f usage.Feature, tier subscription.Tier, n int64, allowed bool) {
			if allowed {
				m.Consumed(f, string(tier), n)
				return
			}
			m.Denied(f, string(tier))
		}),
	)

	// Generation
	model, err := inference.New(cfg.Inference, inference.WithLogger(log))
	if err != nil {
		return err
	}
	images, err := storage.New(ctx, cfg.Storage, storage.WithLogger(log))
	if err != nil {
		return err
	}

	// Background processing
	tasks := queue.NewPgStorage(pool)
	enq, err := queue.NewEnqueuer(tasks, queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries))
	if err != nil {
		return err
	}
	processor := webhook.NewProcessor(kv,
		webhook.WithProcessorLogger(log),
		webhook.WithProcessObserver(m.WebhookProcessed),
	)
	lifecycle := webhooks.NewLifecycle(subs, ledger,
		webhooks.WithImages(images),
		webhooks.WithProfiles(profiles),
		webhooks.WithLogger(log),
	)
	if err := processor.RegisterAll(subs.WebhookHandlers()); err != nil {
		return err
	}
	if err := processor.RegisterAll(lifecycle.Handlers()); err != nil {
		return err
	}
	worker, err := queue.NewWorker(tasks, append(queue.WorkerOptionsFromConfig(cfg.Queue),
		queue.WithObserver(m.TaskObserver()),
		queue.WithWorkerLogger(log),
	)...)
	if err != nil {
		return err
	}
	if err := worker.RegisterHandlers(processor.TaskHandler(), subs.SyncTaskHandler()); err != nil {
		return err
	}
	resync := billing.NewResync(subs, enq, cfg.Billing.ResyncSpec, log)

	hub := notify.NewHub()
	relay := notify.NewRelay(rdb, cfg.NotifyPrefix, hub, log)

	// HTTP
	var identityVerifier webhook.Verifier
	if cfg.Identity.WebhookSecret != "" {
		v, err := webhook.NewSvixVerifier(webhooks.IdentitySource, cfg.Identity.WebhookSecret)
		if err != nil {
			return err
		}
		identityVerifier = v
	}
	errorHandler := handler.NewErrorHandler(log)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware(), m.Middleware, jwt.Middleware(tokens))
	r.Get("/livez", httpserver.Liveness())
	r.Get("/healthz", httpserver.Readiness(log, 5*time.Second, map[string]httpserver.Check{
		"postgres": pg.Healthcheck(pool),
		"redis":    redis.Healthcheck(rdb),
	}))
	r.Handle("/metrics", m.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Mount("/usage", quota.NewService(limiter, errorHandler).Handle())
		r.Mount("/subscription", billing.NewService(subs, cfg.Billing,
			billing.WithErrorHandler(errorHandler),
			billing.WithLogger(log),
		).Handle())
		r.Mount("/events", events.NewService(hub, events.WithLogger(log)).Handle())
		r.Mount("/webhooks", webhooks.Routes(webhook.QueueSink(enq), subscription.Verifier(provider), identityVerifier,
			webhook.WithIngestorLogger(log),
			webhook.WithIngestObserver(m.WebhookIngested),
		))
		r.Mount("/", studio.NewService(limiter, model, images,
			studio.WithErrorHandler(errorHandler),
			studio.WithObserver(m.Inference),
			studio.WithLogger(log),
		).Handle())
	})

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, httpserver.Wrap(r, cfg.HTTP, cfg.Service)) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return resync.Run(gctx) })
	g.Go(func() error {
		// Open event streams only end when the hub closes.
		<-gctx.Done()
		_ = hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
