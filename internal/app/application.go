// Package app wires the exchange engine's dependencies and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rewear/exchange/internal/config"
	"github.com/rewear/exchange/internal/counters"
	"github.com/rewear/exchange/internal/engine"
	"github.com/rewear/exchange/internal/metrics"
	"github.com/rewear/exchange/internal/platform/migrations"
	"github.com/rewear/exchange/internal/storage/postgres"
	"github.com/rewear/exchange/pkg/logger"
)

// Application bundles the engine, the sweeper and the observability
// listener.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *sqlx.DB
	rdb     *redis.Client
	engine  *engine.Engine
	sweeper *engine.Sweeper
	httpSrv *http.Server
}

// New constructs an application from configuration: opens postgres, applies
// migrations, and wires the engine and its background services.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "exchange",
	})

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrations.Apply(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)

	var (
		rdb *redis.Client
		cnt counters.Counters
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		cnt = counters.NewRedisCounters(rdb)
	} else {
		cnt = counters.NewStoreCounters(store)
	}

	var opts []engine.StateMachineOption
	if cfg.Engine.SwapTTL > 0 {
		opts = append(opts, engine.WithTTL(cfg.Engine.SwapTTL))
	}

	eng := engine.New(engine.Config{
		Store:       store,
		Counters:    cnt,
		Logger:      log,
		SignupBonus: cfg.Engine.SignupBonus,
		Options:     opts,
	})

	sweeper := engine.NewSweeper(eng.StateMachine(), cfg.Sweeper.Schedule, log.WithField("component", "sweeper"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &Application{
		cfg:     cfg,
		log:     log,
		db:      db,
		rdb:     rdb,
		engine:  eng,
		sweeper: sweeper,
		httpSrv: &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// Engine returns the wired exchange engine for the surrounding API layer.
func (a *Application) Engine() *engine.Engine { return a.engine }

// Run starts the sweeper and the metrics listener and blocks until the
// context is cancelled or a component fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("metrics listening on %s", a.cfg.Metrics.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the sweeper, the listener and the storage connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.sweeper.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("sweeper stop timed out")
	}
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http shutdown failed")
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("redis close failed")
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("database close failed")
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
