// Package app wires configuration, storage, the pricing service and the HTTP
// server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/catalog"
	"github.com/xenking/kart-pricing/internal/domain/ledger"
	"github.com/xenking/kart-pricing/internal/domain/offer"
	"github.com/xenking/kart-pricing/internal/domain/pricing"
	"github.com/xenking/kart-pricing/internal/handler"
	"github.com/xenking/kart-pricing/internal/storage/cache"
	"github.com/xenking/kart-pricing/internal/storage/memory"
	"github.com/xenking/kart-pricing/internal/storage/postgres"
	"github.com/xenking/kart-pricing/pkg/health"
	"github.com/xenking/kart-pricing/pkg/httpmiddleware"
)

// storage is the offer source and usage ledger selected by configuration.
type storage struct {
	offers cache.Source
	ledger ledger.Ledger
	// db is nil for memory storage.
	db    health.Pinger
	close func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	if cfg.Storage == StorageMemory {
		cat, err := catalog.LoadFiles(ctx, cfg.Catalog...)
		if err != nil {
			return nil, errors.Wrap(err, "load catalog")
		}
		if cat.Currency != "" && cat.Currency != cfg.Currency {
			return nil, errors.Errorf("catalog currency %s does not match %s", cat.Currency, cfg.Currency)
		}
		lg.Info("Loaded offer catalog", zap.Strings("files", cfg.Catalog), zap.Int("offers", len(cat.Offers)))
		return &storage{
			offers: memory.NewOfferStore(cat.Offers...),
			ledger: memory.NewLedger(),
			close:  func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &storage{
		offers: postgres.NewOfferRepository(pool),
		ledger: postgres.NewLedgerRepository(pool),
		db:     pool,
		close:  pool.Close,
	}, nil
}

// telemetry provides the OpenTelemetry providers; *app.Telemetry implements it.
type telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// newRouter mounts health probes and the API behind the middleware chain.
func newRouter(ctx context.Context, lg *zap.Logger, m telemetry, cfg *Config, p handler.Pricer, hs *health.Health) http.Handler {
	router := chi.NewRouter()
	router.Get("/livez", hs.LiveEndpoint)
	router.Get("/readyz", hs.ReadyEndpoint)
	handler.NewHandler(handler.Config{Currency: cfg.Currency}, p).Mount(router)

	return httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument("pricing", m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			Origins:     cfg.CORS.Origins,
			Headers:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			Expose:      []string{httpmiddleware.RequestIDHeader},
			Credentials: cfg.CORS.AllowCredentials,
			MaxAge:      86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	)
}

// Run creates all dependencies, starts the HTTP server and the reservation
// sweeper, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	var offers offer.Store = st.offers
	if cfg.OfferCache.TTL > 0 {
		offers = cache.NewOfferCache(st.offers, cfg.OfferCache.TTL)
	}

	svc, err := pricing.NewService(offers, st.ledger, pricing.Options{
		CheckoutTTL:    cfg.Ledger.CheckoutTTL,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create pricing service")
	}
	sweeper := ledger.NewSweeper(st.ledger, cfg.Ledger.SweepInterval)

	healthSvc := health.New()
	if st.db != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(st.db))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("reservation-sweeper", time.Second, sweeper.LagCheck(3*cfg.Ledger.SweepInterval))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, lg, m, cfg, svc, healthSvc),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		healthSvc.Start(gctx, 10*time.Second)
		healthSvc.SetReady(true)

		<-gctx.Done()
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
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
