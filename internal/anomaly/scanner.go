// Package anomaly runs anomaly scans over performance data: it scores the
// feature rows, replaces the anomaly snapshot, and emits deduplicated alerts,
// maintenance tickets, ledger entries and audit events for flagged rows.
//
// A scan moves through IDLE → LOADING → SCORING → REPLACING_SNAPSHOT →
// EMITTING → DONE. Small inputs stop after LOADING, and a scoring failure
// stops before anything is written.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/audit"
	"github.com/jmerrifield20/SteelWatch/internal/dedup"
	"github.com/jmerrifield20/SteelWatch/internal/ledger"
	"github.com/jmerrifield20/SteelWatch/internal/performance"
	"github.com/jmerrifield20/SteelWatch/internal/scoring"
)

var (
	// ErrScanInProgress is returned when a scan is requested while one runs.
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrScoringUnavailable wraps any scorer failure. Nothing was written.
	ErrScoringUnavailable = errors.New("scoring unavailable")
)

// State is the phase of the scan state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateLoading   State = "LOADING"
	StateScoring   State = "SCORING"
	StateReplacing State = "REPLACING_SNAPSHOT"
	StateEmitting  State = "EMITTING"
	StateDone      State = "DONE"
)

// Appender appends ledger events.
type Appender interface {
	Append(ctx context.Context, payload string, performanceRef *int64) (*ledger.Block, error)
}

// Result summarises one scan.
type Result struct {
	ScanID            uuid.UUID `json:"scan_id"`
	RecordsScanned    int       `json:"records_scanned"`
	AnomaliesFound    int       `json:"anomalies_found"`
	AlertsCreated     int       `json:"alerts_created"`
	AlertsSuppressed  int       `json:"alerts_suppressed"`
	TicketsCreated    int       `json:"tickets_created"`
	TicketsSuppressed int       `json:"tickets_suppressed"`
	BlocksAppended    int       `json:"blocks_appended"`
	AuditFailures     int       `json:"audit_failures"`
	Skipped           bool      `json:"skipped,omitempty"`
}

// Status is the externally visible state of the Scanner.
type Status struct {
	State      State      `json:"state"`
	Running    bool       `json:"running"`
	ScanID     *uuid.UUID `json:"scan_id,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastResult *Result    `json:"last_result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// ScanRecorder is an optional callback invoked after every scan attempt,
// including rejected ones (res is nil then).
type ScanRecorder func(res *Result, elapsed time.Duration, err error)

// Deps are the collaborators of a Scanner. Sink and Lock may be nil; a nil
// Lock only excludes scans within this Scanner.
type Deps struct {
	Source   performance.Source
	Scorer   scoring.Scorer
	Snapshot SnapshotStore
	Gate     dedup.Gate
	Ledger   Appender
	Sink     audit.Sink
	Lock     ScanLock
}

// Scanner orchestrates anomaly scans. At most one scan runs at a time.
type Scanner struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	onScan ScanRecorder
	logger *zap.Logger

	run sync.Mutex // held for the duration of a scan

	mu     sync.RWMutex
	status Status
}

// NewScanner creates a Scanner. Zero Config fields take their defaults.
func NewScanner(deps Deps, cfg Config, logger *zap.Logger) *Scanner {
	if deps.Sink == nil {
		deps.Sink = audit.Nop{}
	}
	if deps.Lock == nil {
		deps.Lock = nopLock{}
	}
	return &Scanner{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger,
		status: Status{State: StateIdle},
	}
}

// SetClock replaces the clock used for snapshot timestamps.
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// SetScanRecorder configures the metrics callback.
func (s *Scanner) SetScanRecorder(fn ScanRecorder) {
	s.onScan = fn
}

// Config returns the effective thresholds.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Status returns a copy of the current status.
func (s *Scanner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.LastResult != nil {
		r := *st.LastResult
		st.LastResult = &r
	}
	return st
}

// Scan runs one scan to completion. It returns ErrScanInProgress without
// doing anything if another scan holds the Scanner or its ScanLock.
//
// On a scoring failure the Result carries the row count with zero anomalies
// and the error wraps ErrScoringUnavailable. Errors raised while emitting
// are joined and returned with the partial Result; the snapshot replaced
// before them stays in place.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	if !s.run.TryLock() {
		return s.reject(ErrScanInProgress)
	}
	defer s.run.Unlock()

	release, ok, err := s.deps.Lock.TryAcquire(ctx)
	if err != nil {
		return s.reject(fmt.Errorf("scan lock: %w", err))
	}
	if !ok {
		return s.reject(ErrScanInProgress)
	}
	defer release()

	start := s.now()
	res := &Result{ScanID: uuid.New()}
	s.begin(res.ScanID, start)

	err = s.scan(ctx, res)

	elapsed := s.now().Sub(start)
	s.finish(res, err)
	if s.onScan != nil {
		s.onScan(res, elapsed, err)
	}

	fields := []zap.Field{
		zap.String("scan_id", res.ScanID.String()),
		zap.Int("records", res.RecordsScanned),
		zap.Int("anomalies", res.AnomaliesFound),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case errors.Is(err, ErrScoringUnavailable):
		s.logger.Warn("scan: scoring unavailable", append(fields, zap.Error(err))...)
	case err != nil:
		s.logger.Error("scan failed", append(fields, zap.Error(err))...)
	default:
		s.logger.Info("scan complete", append(fields,
			zap.Int("alerts_created", res.AlertsCreated),
			zap.Int("tickets_created", res.TicketsCreated),
			zap.Int("blocks_appended", res.BlocksAppended),
		)...)
	}
	return res, err
}

func (s *Scanner) reject(err error) (*Result, error) {
	if s.onScan != nil {
		s.onScan(nil, 0, err)
	}
	if !errors.Is(err, ErrScanInProgress) {
		s.logger.Error("scan not started", zap.Error(err))
	}
	return nil, err
}

func (s *Scanner) scan(ctx context.Context, res *Result) error {
	s.setState(StateLoading)
	rows, err := s.deps.Source.Features(ctx)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	res.RecordsScanned = len(rows)
	if len(rows) < s.cfg.MinRows {
		res.Skipped = true
		s.logger.Info("scan: not enough rows",
			zap.Int("rows", len(rows)),
			zap.Int("min_rows", s.cfg.MinRows),
		)
		return nil
	}

	s.setState(StateScoring)
	features := make([]scoring.Feature, len(rows))
	for i, r := range rows {
		features[i] = scoring.Feature{r.OEE, r.Downtime, r.ActualOutput}
	}
	scored, err := s.deps.Scorer.Score(ctx, features, s.cfg.ContaminationFor(len(rows)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScoringUnavailable, err)
	}
	plan, err := BuildPlan(res.ScanID, rows, scored, s.cfg, s.now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScoringUnavailable, err)
	}

	s.setState(StateReplacing)
	if err := s.deps.Snapshot.Replace(ctx, plan.Snapshot); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	res.AnomaliesFound = len(plan.Findings)

	s.setState(StateEmitting)
	var errs []error
	for i := range plan.Findings {
		errs = append(errs, s.emit(ctx, &plan.Findings[i], res)...)
	}
	return errors.Join(errs...)
}

func (s *Scanner) emit(ctx context.Context, f *Finding, res *Result) []error {
	var errs []error
	machine := zap.Int64("machine_id", f.Row.MachineID)

	ok, err := s.deps.Gate.InsertAlert(ctx, f.Alert, s.cfg.AlertWindow)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("insert alert for machine %d: %w", f.Row.MachineID, err))
	case ok:
		res.AlertsCreated++
	default:
		res.AlertsSuppressed++
		s.logger.Debug("scan: alert suppressed", machine, zap.String("message", f.Alert.Message))
	}

	if f.Ticket != nil {
		ok, err := s.deps.Gate.InsertTicket(ctx, f.Ticket)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("insert ticket for machine %d: %w", f.Row.MachineID, err))
		case ok:
			res.TicketsCreated++
		default:
			res.TicketsSuppressed++
		}
	}

	ref := f.Row.PerformanceID
	if _, err := s.deps.Ledger.Append(ctx, f.LedgerPayload, &ref); err != nil {
		errs = append(errs, fmt.Errorf("append ledger event for performance %d: %w", ref, err))
	} else {
		res.BlocksAppended++
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AuditTimeout)
	defer cancel()
	if err := s.deps.Sink.LogEvent(actx, audit.KindAnomalyDetected, f.Audit); err != nil {
		res.AuditFailures++
		s.logger.Warn("scan: audit sink failed", machine, zap.Error(err))
	}
	return errs
}

func (s *Scanner) begin(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = StateLoading
	s.status.Running = true
	s.status.ScanID = &id
	s.status.StartedAt = &at
	s.status.FinishedAt = nil
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
}

func (s *Scanner) finish(res *Result, err error) {
	at := s.now()
	r := *res
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = StateDone
	s.status.Running = false
	s.status.FinishedAt = &at
	s.status.LastResult = &r
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}
