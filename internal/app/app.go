package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/cart"
	"github.com/dotandbo/spree/internal/domain/variant"
	"github.com/dotandbo/spree/internal/event"
	"github.com/dotandbo/spree/internal/handler"
	"github.com/dotandbo/spree/internal/storage/postgres"
	rediscache "github.com/dotandbo/spree/internal/storage/redis"
	"github.com/dotandbo/spree/pkg/health"
	"github.com/dotandbo/spree/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	shippingRate, err := cfg.ShippingRate()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New(health.WithMeterProvider(m.MeterProvider()))
	healthSvc.Register(health.Readiness, health.Check{Name: "postgres", Timeout: 5 * time.Second, Func: health.Ping(pool)})
	healthSvc.Register(health.Liveness, health.Check{Name: "goroutines", Func: health.MaxGoroutines(10000)})
	healthSvc.Register(health.Liveness, health.Check{Name: "gc_pause", Func: health.MaxGCPause(time.Second)})

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	promotionRepo := postgres.NewPromotionRepository(pool)
	taxRateRepo := postgres.NewTaxRateRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	var (
		variants variant.Repository = postgres.NewVariantRepository(pool)
		limiter  httpmiddleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.Register(health.Readiness, health.Check{Name: "redis", Timeout: 2 * time.Second, Func: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		variants = rediscache.NewVariantCache(rdb, variants, cfg.Redis.VariantTTL)
		limiter = httpmiddleware.NewRedisLimiter(rdb, "spree:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Variant cache and shared rate limit enabled", zap.String("redis", cfg.Redis.Addr))
	} else {
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go ml.Run(ctx)
		limiter = ml
	}

	opts := []cart.Option{
		cart.WithTracerProvider(m.TracerProvider()),
		cart.WithMeterProvider(m.MeterProvider()),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := event.NewProducer(event.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Error("Close event producer", zap.Error(err))
			}
		}()
		opts = append(opts, cart.WithPublisher(producer))
		lg.Info("Event publishing enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain service.
	cartSvc := cart.NewService(orderRepo, variants, promotionRepo, taxRateRepo, cart.Config{
		ShippingFlatRate: shippingRate,
		Currency:         cfg.DefaultCurrency,
		TaxZoneID:        cfg.TaxZoneID,
	}, opts...)

	h := handler.NewHandler(cartSvc, handler.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)))

	// Router: health endpoints + API routes on one server. Route aware
	// middlewares run inside chi so the matched pattern is known.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Instrument("spree-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", healthSvc.Handler(health.Liveness))
	r.Get("/readyz", healthSvc.Handler(health.Readiness))
	h.Mount(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     httpmiddleware.DefaultAllowHeaders,
				ExposeHeaders:    httpmiddleware.DefaultExposeHeaders,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, httpmiddleware.ByClientIP),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
