package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
	"github.com/jmerrifield20/SteelWatch/internal/app"
	"github.com/jmerrifield20/SteelWatch/internal/dedup"
	"github.com/jmerrifield20/SteelWatch/internal/ledger"
	"github.com/jmerrifield20/SteelWatch/internal/performance"
	"github.com/jmerrifield20/SteelWatch/internal/scoring"
)

func loadDefaults(t *testing.T) *app.Config {
	t.Helper()
	v := viper.New()
	app.SetDefaults(v)
	cfg, err := app.LoadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadConfig_defaults(t *testing.T) {
	cfg := loadDefaults(t)

	if cfg.Server.Port != 8080 || cfg.Server.RateLimitRPS != 20 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Scan.MinRows != 5 || cfg.Scan.SmallContamination != 0.20 || cfg.Scan.HighSeverityScore != -0.25 {
		t.Errorf("scan defaults: %+v", cfg.Scan)
	}
	if cfg.Scan.Interval != 0 || cfg.Scan.Timeout != 2*time.Minute {
		t.Errorf("scan durations: interval=%v timeout=%v", cfg.Scan.Interval, cfg.Scan.Timeout)
	}
	if cfg.Scoring.Mode != "local" || cfg.Scoring.Seed != 42 || cfg.Scoring.Trees != 100 {
		t.Errorf("scoring defaults: %+v", cfg.Scoring)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("token ttl: %v", cfg.Auth.TokenTTL)
	}

	sc := cfg.ScanConfig()
	if sc.AlertWindow != time.Hour {
		t.Errorf("alert window: %v", sc.AlertWindow)
	}
}

func TestReadConfig_envOverride(t *testing.T) {
	t.Setenv("SCAN_MIN_ROWS", "9")
	t.Setenv("ALERTS_DEDUPE_MINUTES", "15")

	v := viper.New()
	if err := app.ReadConfig(v, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	cfg, err := app.LoadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scan.MinRows != 9 {
		t.Errorf("min rows: got %d, want 9", cfg.Scan.MinRows)
	}
	if cfg.ScanConfig().AlertWindow != 15*time.Minute {
		t.Errorf("alert window: got %v", cfg.ScanConfig().AlertWindow)
	}
}

func TestLoadConfig_rejectsBadScoring(t *testing.T) {
	for name, set := range map[string]func(*viper.Viper){
		"unknown mode":    func(v *viper.Viper) { v.Set("scoring.mode", "gpu") },
		"remote no url":   func(v *viper.Viper) { v.Set("scoring.mode", "remote") },
		"contamination":   func(v *viper.Viper) { v.Set("scan.contamination", 0.7) },
		"negative period": func(v *viper.Viper) { v.Set("scan.interval", "-1m") },
	} {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			app.SetDefaults(v)
			set(v)
			if _, err := app.LoadConfig(v); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewScorer_modes(t *testing.T) {
	cfg := loadDefaults(t)
	s, err := app.NewScorer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*scoring.IsolationForest); !ok {
		t.Errorf("local mode: got %T", s)
	}

	cfg.Scoring.Mode = "remote"
	cfg.Scoring.URL = "http://scorer:9000"
	s, err = app.NewScorer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*scoring.HTTPScorer); !ok {
		t.Errorf("remote mode: got %T", s)
	}
}

func TestNewInMemory_scanEndToEnd(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Auth.AdminSecret = "0123456789abcdef0123456789abcdef"

	src := performance.StaticSource{}
	for i := 1; i <= 24; i++ {
		src = append(src, performance.FeatureRow{PerformanceID: int64(i), MachineID: 1, MachineName: "Caster", OEE: 82, Downtime: 12, ActualOutput: 610})
	}
	src = append(src, performance.FeatureRow{PerformanceID: 25, MachineID: 2, MachineName: "Rolling Mill", OEE: 9, Downtime: 300, ActualOutput: 35})

	a, err := app.NewInMemory(cfg, src, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.Tokens == nil {
		t.Error("tokens should be configured when admin secret is set")
	}

	ctx := context.Background()
	res, err := a.Scanner.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.RecordsScanned != 25 || res.AnomaliesFound == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	report, err := a.Ledger.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Total != res.BlocksAppended {
		t.Errorf("ledger after scan: %+v (blocks appended %d)", report, res.BlocksAppended)
	}
	a.VerifyOnStartup(ctx)
}

// oneReadStore serves a single ReadAll and fails every later one.
type oneReadStore struct {
	*ledger.MemoryStore
	reads int
}

func (s *oneReadStore) ReadAll(ctx context.Context) ([]*ledger.Block, error) {
	s.reads++
	if s.reads > 1 {
		return nil, errors.New("connection reset")
	}
	return s.MemoryStore.ReadAll(ctx)
}

func TestVerifyOnStartup_logsRootFromSingleRead(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryStore()
	seed := ledger.New(mem, zap.NewNop())
	tail, err := seed.Append(ctx, "MACHINE_ADDED|ID=1", nil)
	if err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	store := &oneReadStore{MemoryStore: mem}
	a, err := app.New(loadDefaults(t), app.Stores{
		Ledger:   store,
		Records:  dedup.NewMemoryStore(),
		Snapshot: anomaly.NewMemorySnapshot(),
		Source:   performance.StaticSource{},
	}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.VerifyOnStartup(ctx)

	if store.reads != 1 {
		t.Errorf("expected one ledger read, got %d", store.reads)
	}
	entries := logs.FilterMessage("ledger verified").All()
	if len(entries) != 1 {
		t.Fatalf("expected one 'ledger verified' entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["root"]; got != tail.Hash {
		t.Errorf("root = %v, want %s", got, tail.Hash)
	}
}

func TestVerifyOnStartup_readFailureLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := &oneReadStore{MemoryStore: ledger.NewMemoryStore(), reads: 1}
	a, err := app.New(loadDefaults(t), app.Stores{
		Ledger:   store,
		Records:  dedup.NewMemoryStore(),
		Snapshot: anomaly.NewMemorySnapshot(),
		Source:   performance.StaticSource{},
	}, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	a.VerifyOnStartup(context.Background())
	if logs.FilterMessage("ledger integrity check could not run").Len() != 1 {
		t.Errorf("expected the read failure to be logged, got %v", logs.All())
	}
}
