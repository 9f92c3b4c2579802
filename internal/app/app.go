// Package app assembles the placement stack from configuration. The HTTP
// server, the serverless entry point and the rebalance CLI all build on it.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/internal/worker"
	"github.com/arnavshah/shelter-api-go/pkg/config"
	"github.com/arnavshah/shelter-api-go/pkg/database"
	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/arnavshah/shelter-api-go/pkg/handlers"
	"github.com/arnavshah/shelter-api-go/pkg/ledger"
	"github.com/arnavshah/shelter-api-go/pkg/matching"
	"github.com/arnavshah/shelter-api-go/pkg/messaging"
	"github.com/arnavshah/shelter-api-go/pkg/metrics"
	"github.com/arnavshah/shelter-api-go/pkg/rebalance"
	"github.com/arnavshah/shelter-api-go/pkg/scorer"
	"github.com/arnavshah/shelter-api-go/pkg/similarity"
	"github.com/arnavshah/shelter-api-go/pkg/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// App holds the wired components
type App struct {
	Config     *config.Config
	Logger     logging.Logger
	DB         *gorm.DB
	Store      *store.Gorm
	Ledger     *ledger.Ledger
	Engine     *matching.Engine
	Planner    *rebalance.Planner
	Executor   *rebalance.Executor
	Registry   *prometheus.Registry
	Rebalancer *worker.Rebalancer // nil unless REBALANCE_INTERVAL is set

	notifier *messaging.Notifier
}

// New opens the database and builds every component from cfg
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	logger = logging.OrNop(logger)

	db, err := database.InitDB(database.Options{
		DatabaseURL: cfg.DatabaseURL,
		DataPath:    cfg.DataPath,
		Debug:       cfg.DBDebug,
	})
	if err != nil {
		return nil, err
	}
	return NewWithDB(cfg, db, logger)
}

// NewWithDB builds the stack on an already migrated database
func NewWithDB(cfg *config.Config, db *gorm.DB, logger logging.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger, DB: db}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(a.Registry, "")

	sinks := events.Multi{database.NewAuditSink(db)}
	if cfg.NATSURL != "" {
		n, err := messaging.Connect(messaging.Config{URL: cfg.NATSURL, SubjectPrefix: cfg.NATSSubjectPrefix})
		if err != nil {
			logger.Warn("event notifications disabled", "error", err)
		} else {
			a.notifier = n
			sinks = append(sinks, n)
			logger.Info("publishing events to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
		}
	}

	var provider similarity.Provider = similarity.Neutral{}
	if cfg.SimilarityMode == config.SimilarityHashed {
		provider = similarity.NewHashedEmbedding()
	}

	a.Store = store.NewGorm(db)
	a.Ledger = ledger.New(a.Store,
		ledger.WithMaxRetries(cfg.LedgerMaxRetries),
		ledger.WithLogger(logger),
		ledger.WithMetrics(m),
	)

	sc := scorer.New(scorer.Config{
		MaxDistanceMeters: cfg.MatchRadiusMeters(),
		Weights: scorer.Weights{
			Capacity:   cfg.WeightCapacity,
			Distance:   cfg.WeightDistance,
			Feature:    cfg.WeightFeature,
			Similarity: cfg.WeightSimilarity,
		},
	}, provider)
	a.Engine = matching.New(a.Store, a.Ledger, sc,
		matching.WithEvents(sinks),
		matching.WithLogger(logger),
		matching.WithMetrics(m),
	)

	opts := []rebalance.Option{
		rebalance.WithEvents(sinks),
		rebalance.WithLogger(logger),
		rebalance.WithMetrics(m),
	}
	a.Planner = rebalance.NewPlanner(a.Store, rebalance.PlannerConfig{
		OverloadThreshold:  cfg.OverloadThreshold,
		UnderloadThreshold: cfg.UnderloadThreshold,
		TargetRate:         cfg.TargetRate,
		MoveCap:            cfg.MoveCap,
		HighPriorityExcess: cfg.HighPriorityExcess,
	}, opts...)
	a.Executor = rebalance.NewExecutor(a.Store, a.Ledger, opts...)

	if cfg.RebalanceInterval > 0 {
		a.Rebalancer = worker.NewRebalancer(a.Planner, a.Executor, worker.Config{
			Interval:    cfg.RebalanceInterval,
			AutoExecute: cfg.RebalanceAutoExecute,
		}, logger)
	}
	return a, nil
}

// Handler returns the route handlers bound to the app's components
func (a *App) Handler() *handlers.Handler {
	return &handlers.Handler{
		DB:       a.DB,
		Store:    a.Store,
		Ledger:   a.Ledger,
		Engine:   a.Engine,
		Planner:  a.Planner,
		Executor: a.Executor,
		Logger:   a.Logger,
	}
}

// Router builds the gin engine with /metrics served from the app registry
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(a.Handler(), a.MetricsHandler())
}

// MetricsHandler exposes the app registry in the Prometheus text format
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
}

// Close releases the NATS connection and the database
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close nats: %w", err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
