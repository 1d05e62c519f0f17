// Command engine is the thin CLI wrapper around the core (spec §6 CLI
// surface): `engine serve`, `engine feedback <file>`, `engine export-state`,
// `engine reset-learning`. None of the domain logic lives here — every
// subcommand wires together already-public constructors from internal/* and
// exits with one of the four documented codes.
//
// Grounded on the teacher's cmd/ares/main.go (config load, gorm.Open with
// connection pooling, signal-driven graceful shutdown) and
// cmd/test_eventbus/main.go (a flag-free, os.Args[1]-dispatched utility
// binary), generalized from one fixed server into four named subcommands.
package main

import (
	"context"
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mallku/internal/anchor"
	"mallku/internal/config"
	"mallku/internal/correlation"
	"mallku/internal/dialogue"
	"mallku/internal/evolution"
	"mallku/internal/logger"
	"mallku/internal/merrorkind"
	"mallku/internal/monitoring"
	"mallku/internal/observability"
	"mallku/internal/patternlibrary"
	"mallku/internal/store"
	"mallku/internal/thresholds"
	"mallku/internal/wisdom"
)

// exitCode maps a merrorkind.Kind (or a nil/unknown error) to one of the
// four codes the CLI surface promises: 0 ok, 1 transient, 2 invariant
// violation, 3 configuration.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := merrorkind.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case merrorkind.KindConfiguration:
		return 3
	case merrorkind.KindInvariant:
		return 2
	default:
		return 1
	}
}

// stack bundles every engine the CLI subcommands need, constructed once per
// process invocation.
type stack struct {
	cfg     *config.Config
	log     *logger.Logger
	backing store.Store
	anchors anchor.Store
	metrics *monitoring.Metrics

	library   *patternlibrary.Library
	evolution *evolution.Engine
	wisdom    *wisdom.Engine
	engine    *correlation.Engine
	dialogues *dialogue.Orchestrator
	emergence *emergenceRegistry

	// db is non-nil only when persistence is enabled; it backs the
	// observability collector's gorm sink and is nil in
	// MALLKU_SKIP_DATABASE=true mode.
	db         *gorm.DB
	obsMetrics *observability.MetricsCollector
	obsSpans   *observability.SpanRecorder
	obsLogs    *observability.LogSink
}

// thresholdsPath is where the adaptive threshold controller's durable state
// lives beneath the configured state directory (spec §6).
func thresholdsPath(cfg *config.Config) string {
	return cfg.ThresholdsStateDir + "/thresholds.json"
}

// buildStack wires the full engine graph per SPEC_FULL.md's component list,
// loading whatever adaptive threshold state was persisted from a prior run
// before any tick or feedback batch can touch it.
func buildStack() (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	backing, db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	var obsMetrics *observability.MetricsCollector
	var obsSpans *observability.SpanRecorder
	var obsLogs *observability.LogSink
	var sink logger.Sink
	if db != nil {
		obsMetrics = observability.NewMetricsCollector(db, "mallku-engine")
		obsSpans = observability.NewSpanRecorder(db, "mallku-engine")
		obsLogs = observability.NewLogSink(db, "mallku-engine")
		sink = obsLogs
	}
	log := logger.New("mallku-engine", sink)
	for name, policy := range store.StandardCollections() {
		if err := backing.CreateCollection(context.Background(), name, policy); err != nil {
			return nil, err
		}
	}

	anchors := anchor.NewMemoryStore()
	metrics := monitoring.NewMetrics()

	library := patternlibrary.New(backing)
	evo := evolution.New(library)
	wisdomEngine := wisdom.New(backing)
	dialogueOrchestrator := dialogue.New(backing, true)
	dialogueOrchestrator.SetPatternDetectionHook(patternDetectionHook(library))

	corrEngine := correlation.New(correlation.Config{
		RingBufferCap: cfg.RingBufferCap,
		WindowSize:    cfg.WindowSize,
		OverlapFactor: cfg.OverlapFactor,
		LearningBatch: cfg.LearningBatch,
	}, anchors, metrics, log)

	loaded, err := thresholds.Load(thresholdsPath(cfg))
	if err != nil {
		return nil, err
	}
	*corrEngine.Thresholds() = *loaded

	return &stack{
		cfg: cfg, log: log, backing: backing, anchors: anchors, metrics: metrics,
		library: library, evolution: evo, wisdom: wisdomEngine, engine: corrEngine,
		dialogues: dialogueOrchestrator,
		db:        db, obsMetrics: obsMetrics, obsSpans: obsSpans, obsLogs: obsLogs,
	}, nil
}

// openStore selects the in-memory Store when MALLKU_SKIP_DATABASE=true,
// otherwise opens a gorm/Postgres connection pool the same way the
// teacher's main.go does. The raw *gorm.DB is also returned (nil in
// in-memory mode) so the caller can back the observability collector with
// it without the Store interface needing to leak its concrete driver.
func openStore(cfg *config.Config) (store.Store, *gorm.DB, error) {
	if cfg.SkipDatabase {
		return store.NewMemoryStore(), nil, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.StoreDSN), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, nil, merrorkind.PersistenceUnavailable("engine", "cannot open store connection", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
	}
	return store.NewGormStore(db), db, nil
}

// saveThresholds persists the correlation engine's learned threshold state
// back to disk, the counterpart to buildStack's load.
func (s *stack) saveThresholds() error {
	return s.engine.Thresholds().Save(thresholdsPath(s.cfg))
}

func fatalf(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
