package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
	"github.com/jmerrifield20/SteelWatch/internal/api/handler"
	"github.com/jmerrifield20/SteelWatch/internal/app"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("steelwatch exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	v := viper.New()
	if err := app.ReadConfig(v, logger); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database + layers ────────────────────────────────────────────────────
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open app: %w", err)
	}
	defer a.Close()

	a.Ledger.SetAppendRecorder(handler.RecordLedgerAppend)
	a.Scanner.SetScanRecorder(handler.RecordScan)
	a.VerifyOnStartup(ctx)

	if a.Tokens == nil {
		logger.Warn("auth.admin_secret not set; mutating endpoints are open")
	}

	// ── Background: periodic scans ───────────────────────────────────────────
	if cfg.Scan.Interval > 0 {
		go anomaly.NewScheduler(a.Scanner, cfg.Scan.Interval, cfg.Scan.Timeout, logger).Run(ctx)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.NewRouter(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("steelwatch HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down steelwatch...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("steelwatch stopped")
	return nil
}
