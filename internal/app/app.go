// Package app assembles the SteelWatch layers from a Config. The server and
// the operator CLI share it so both see the same stores and thresholds.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
	"github.com/jmerrifield20/SteelWatch/internal/audit"
	"github.com/jmerrifield20/SteelWatch/internal/db"
	"github.com/jmerrifield20/SteelWatch/internal/dedup"
	"github.com/jmerrifield20/SteelWatch/internal/identity"
	"github.com/jmerrifield20/SteelWatch/internal/ledger"
	"github.com/jmerrifield20/SteelWatch/internal/performance"
	"github.com/jmerrifield20/SteelWatch/internal/scoring"
)

// App holds the wired layers.
type App struct {
	Config   *Config
	Pool     *pgxpool.Pool // nil for in-memory apps
	Ledger   *ledger.Ledger
	Records  dedup.Store
	Snapshot anomaly.SnapshotStore
	Scanner  *anomaly.Scanner
	Sink     audit.Sink
	// Tokens is nil when auth.admin_secret is unset.
	Tokens *identity.AdminTokens

	closers []func()
	logger  *zap.Logger
}

// Stores are the backing implementations an App is built on.
type Stores struct {
	Ledger   ledger.Store
	Records  dedup.Store
	Snapshot anomaly.SnapshotStore
	Source   performance.Source
	// ScanLock may be nil for single-process stores.
	ScanLock anomaly.ScanLock
}

// Open connects to PostgreSQL, optionally migrates, and wires every layer
// onto the Postgres-backed stores.
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*App, error) {
	pool, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	a, err := New(cfg, Stores{
		Ledger:   ledger.NewPostgresStore(pool, logger),
		Records:  dedup.NewPostgresStore(pool),
		Snapshot: anomaly.NewPostgresSnapshot(pool),
		Source:   performance.NewRepository(pool),
		ScanLock: anomaly.NewPostgresScanLock(pool),
	}, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	return a, nil
}

// NewInMemory wires every layer onto in-memory stores fed by source.
func NewInMemory(cfg *Config, source performance.Source, logger *zap.Logger) (*App, error) {
	return New(cfg, Stores{
		Ledger:   ledger.NewMemoryStore(),
		Records:  dedup.NewMemoryStore(),
		Snapshot: anomaly.NewMemorySnapshot(),
		Source:   source,
	}, logger)
}

// New wires every layer onto the given stores.
func New(cfg *Config, st Stores, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}

	sink, closeSink, err := NewSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Sink = sink
	a.closers = append(a.closers, closeSink)

	if secret := cfg.Auth.AdminSecret; secret != "" {
		tokens, err := identity.NewAdminTokens(secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("admin tokens: %w", err)
		}
		a.Tokens = tokens
	}

	a.Ledger = ledger.New(st.Ledger, logger)
	a.Records = st.Records
	a.Snapshot = st.Snapshot
	a.Scanner = anomaly.NewScanner(anomaly.Deps{
		Source:   st.Source,
		Scorer:   scorer,
		Snapshot: st.Snapshot,
		Gate:     st.Records,
		Ledger:   a.Ledger,
		Sink:     sink,
		Lock:     st.ScanLock,
	}, cfg.ScanConfig(), logger)
	return a, nil
}

// NewScorer builds the Scorer selected by scoring.mode.
func NewScorer(cfg *Config) (scoring.Scorer, error) {
	switch cfg.Scoring.Mode {
	case "", "local":
		return scoring.NewIsolationForest(scoring.ForestConfig{
			Trees:      cfg.Scoring.Trees,
			SampleSize: cfg.Scoring.SampleSize,
			Seed:       cfg.Scoring.Seed,
		}), nil
	case "remote":
		return scoring.NewHTTPScorer(cfg.Scoring.URL, cfg.Scoring.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown scoring mode %q", cfg.Scoring.Mode)
	}
}

// NewSink builds the audit fan-out: the log sink always, plus NATS and the
// webhook when configured. The returned func releases connections.
func NewSink(cfg *Config, logger *zap.Logger) (audit.Sink, func(), error) {
	sinks := audit.Multi{audit.NewLogSink(logger)}
	closeFn := func() {}

	if url := cfg.Audit.NATSURL; url != "" {
		ns, err := audit.NewNATSSink(url, cfg.Audit.NATSSubject)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, ns)
		closeFn = ns.Close
		logger.Info("audit sink: nats", zap.String("subject", cfg.Audit.NATSSubject))
	}
	if url := cfg.Audit.WebhookURL; url != "" {
		sinks = append(sinks, audit.NewWebhookSink(url, cfg.Audit.WebhookSecret))
		logger.Info("audit sink: webhook", zap.String("url", url))
	}
	return sinks, closeFn, nil
}

// VerifyOnStartup checks the ledger and logs the outcome. The report and
// the root come from the same read.
func (a *App) VerifyOnStartup(ctx context.Context) {
	blocks, err := a.Ledger.Blocks(ctx)
	if err != nil {
		a.logger.Error("ledger integrity check could not run", zap.Error(err))
		return
	}
	report := ledger.Check(blocks)
	if !report.Valid {
		a.logger.Warn("ledger integrity check FAILED",
			zap.Int("blocks", report.Total),
			zap.Int("issues", len(report.Issues)),
		)
		return
	}
	root := ledger.Sentinel
	if n := len(blocks); n > 0 {
		root = blocks[n-1].Hash
	}
	a.logger.Info("ledger verified",
		zap.Int("blocks", report.Total),
		zap.String("root", root),
	)
}

// Close releases pools and connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
