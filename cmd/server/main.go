package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	accesshandler "landgrid/internal/access/handler"
	accessmodels "landgrid/internal/access/models"
	accessservice "landgrid/internal/access/service"
	accessstore "landgrid/internal/access/store"
	markethandler "landgrid/internal/market/handler"
	marketmetrics "landgrid/internal/market/metrics"
	marketservice "landgrid/internal/market/service"
	marketstore "landgrid/internal/market/store"
	"landgrid/internal/platform/config"
	"landgrid/internal/platform/events"
	"landgrid/internal/platform/httpserver"
	"landgrid/internal/platform/logger"
	"landgrid/internal/platform/middleware"
	platformredis "landgrid/internal/platform/redis"
	registryhandler "landgrid/internal/registry/handler"
	registrymetrics "landgrid/internal/registry/metrics"
	registryservice "landgrid/internal/registry/service"
	registrystore "landgrid/internal/registry/store"
	"landgrid/internal/token"
	"landgrid/pkg/requestcontext"
)

// main wires the stores, services, and transports; business logic lives in
// the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	// Stores: postgres when a DSN is configured, in-memory otherwise.
	var (
		db            *sql.DB
		rolesStore    accessservice.Store
		parcelsStore  registryservice.Store
		listingsStore marketservice.Store
		marketOpts    []marketservice.Option
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("failed to reach postgres", "error", err)
			os.Exit(1)
		}
		rolesStore = accessstore.NewPostgres(db)
		parcelsStore = registrystore.NewPostgres(db)
		listingsStore = marketstore.NewPostgres(db)
		marketOpts = append(marketOpts, marketservice.WithTx(newMarketPostgresTx(db)))
	} else {
		rolesStore = accessstore.NewMemory()
		parcelsStore = registrystore.NewMemory()
		listingsStore = marketstore.NewMemory()
	}

	cache, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		marketOpts = append(marketOpts, marketservice.WithListingsCache(cache, config.ListingsCacheTTL))
	}

	var publisher events.Publisher = events.NewMemoryPublisher()
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.EventTopic, log)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	// The payment token is an external ledger. The in-process ledger stands
	// in until the chain adapter lands; balances seeded out of band.
	paymentLedger := token.NewMemoryLedger()

	access := accessservice.New(rolesStore,
		accessservice.WithLogger(log),
		accessservice.WithPublisher(publisher),
	)
	registry := registryservice.New(parcelsStore, access, cfg.BaseURI, cfg.MaxLands,
		registryservice.WithLogger(log),
		registryservice.WithPublisher(publisher),
		registryservice.WithMetrics(registrymetrics.New()),
	)
	marketOpts = append(marketOpts,
		marketservice.WithLogger(log),
		marketservice.WithPublisher(publisher),
		marketservice.WithMetrics(marketmetrics.New()),
	)
	market := marketservice.New(listingsStore, registry, access, paymentLedger,
		cfg.Marketplace, cfg.Treasury, cfg.FeeBps, marketOpts...)

	if err := bootstrap(ctx, cfg, access, registry); err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	validator := middleware.NewHMACValidator(cfg.JWTSigningKey)
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	accesshandler.New(access, log, validator).Register(router)
	registryhandler.New(registry, log, validator).Register(router)
	markethandler.New(market, log, validator).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("starting landgrid", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// bootstrap seeds the deployer with every role, grants the marketplace the
// minter role, and registers it as a trusted registry app so it can escrow
// parcels without per-owner approvals.
func bootstrap(ctx context.Context, cfg config.Config, access *accessservice.Service, registry *registryservice.Service) error {
	if cfg.Deployer.IsZero() {
		return nil
	}
	if err := access.Seed(ctx, cfg.Deployer); err != nil {
		return err
	}

	deployerCtx := requestcontext.WithCaller(ctx, cfg.Deployer)
	if err := access.GrantRole(deployerCtx, accessmodels.RoleMinter, cfg.Marketplace); err != nil {
		return err
	}
	return registry.AddApp(deployerCtx, cfg.Marketplace)
}
