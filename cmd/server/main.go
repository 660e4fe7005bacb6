package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	httpadapter "varfreq/internal/adapters/http"
	"varfreq/internal/adapters/memory"
	pg "varfreq/internal/adapters/postgres"
	"varfreq/internal/adapters/sqlite"
	"varfreq/internal/config"
	"varfreq/internal/coverage"
	"varfreq/internal/freq"
	"varfreq/internal/freqcache"
	"varfreq/internal/ploidy"
	"varfreq/internal/pool"
	"varfreq/internal/ports"
	"varfreq/internal/scope"
	freqsvc "varfreq/internal/services/frequencies"
	importsvc "varfreq/internal/services/importer"
	"varfreq/internal/workers/importrunner"
)

// stores bundles every repository port one backend provides.
type stores interface {
	ports.SampleStore
	ports.ObservationStore
	ports.CoverageStore
	ports.VersionStore
	ports.ImportStore
	ports.ImportJobQueue
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}
	engineCfg := config.DefaultEngineConfig()
	if cfg.EngineConfigPath != "" {
		engineCfg, err = config.LoadEngineConfig(cfg.EngineConfigPath)
		if err != nil {
			log.Error("engine config load failed", "path", cfg.EngineConfigPath, "err", err)
			os.Exit(1)
		}
	}
	model, err := ploidy.New(engineCfg)
	if err != nil {
		log.Error("ploidy model rejected", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store open failed", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer cleanup()
	log.Info("store ready", "backend", cfg.StoreBackend)

	cache := freqcache.New()
	locks := freqcache.NewLockSet()
	agg := freq.NewAggregator(
		scope.NewResolver(store),
		coverage.NewResolver(store),
		model,
		pool.NewAccountant(model, engineCfg.Pools.DefaultCopiesPerIndividual),
		store,
		store,
	)
	frequencies := freqsvc.New(agg, cache, store, log)
	importer := importsvc.New(store, store, store, store, cache, locks, model, log)
	processor := &importrunner.Processor{
		Imports: store, Samples: store, Obs: store, Cov: store,
		Versions: store, Cache: cache, Locks: locks, Log: log,
	}

	srv := httpadapter.New(frequencies, importer, store, processor, engineCfg.DefaultCoveragePolicy(), log)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	if cfg.ImportWorkers > 0 {
		importrunner.Run(ctx, store, processor, cfg.ImportWorkers, 500*time.Millisecond, log)
		log.Info("import workers started", "count", cfg.ImportWorkers)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- http.ListenAndServe(cfg.ListenAddr, r) }()
	log.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		time.Sleep(300 * time.Millisecond)
	case err := <-errCh:
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config) (stores, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
