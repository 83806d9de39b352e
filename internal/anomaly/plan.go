package anomaly

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/SteelWatch/internal/dedup"
	"github.com/jmerrifield20/SteelWatch/internal/performance"
	"github.com/jmerrifield20/SteelWatch/internal/scoring"
)

// Plan is everything a scan will write, decided before any write happens.
type Plan struct {
	Snapshot []Row
	Findings []Finding
}

// Finding is one anomalous row and the records it produces. Ticket is nil
// unless the severity is HIGH.
type Finding struct {
	Row           performance.FeatureRow
	Score         float64
	Severity      dedup.Severity
	Alert         *dedup.Alert
	Ticket        *dedup.Ticket
	LedgerPayload string
	Audit         AuditRecord
}

// AuditRecord is the payload sent to the audit sink for each finding.
type AuditRecord struct {
	ScanID        string    `json:"scan_id"`
	MachineID     int64     `json:"machine_id"`
	MachineName   string    `json:"machine_name"`
	PerformanceID int64     `json:"performance_id"`
	AnomalyScore  float64   `json:"anomaly_score"`
	IsAnomaly     bool      `json:"is_anomaly"`
	LogLevel      string    `json:"log_level"`
	Timestamp     time.Time `json:"timestamp"`
}

// BuildPlan turns scored rows into a snapshot and a list of findings.
func BuildPlan(scanID uuid.UUID, rows []performance.FeatureRow, res *scoring.Result, cfg Config, now time.Time) (*Plan, error) {
	if res == nil || len(res.Labels) != len(rows) || len(res.Scores) != len(rows) {
		return nil, scoring.ErrLengthMismatch
	}

	plan := &Plan{Snapshot: make([]Row, len(rows))}
	for i, row := range rows {
		score := res.Scores[i]
		flagged := res.Labels[i] == scoring.LabelAnomaly
		plan.Snapshot[i] = Row{
			MachineID:     row.MachineID,
			PerformanceID: row.PerformanceID,
			Score:         score,
			IsAnomaly:     flagged,
			Timestamp:     now,
		}
		if !flagged {
			continue
		}
		plan.Findings = append(plan.Findings, newFinding(scanID, row, score, cfg.Severity(score), now))
	}
	return plan, nil
}

func newFinding(scanID uuid.UUID, row performance.FeatureRow, score float64, sev dedup.Severity, now time.Time) Finding {
	name := row.Label()
	f := Finding{
		Row:      row,
		Score:    score,
		Severity: sev,
		Alert: &dedup.Alert{
			MachineID: row.MachineID,
			Message:   AlertMessage(name, score),
			Severity:  sev,
		},
		LedgerPayload: LedgerPayload(scanID, row, score, sev),
		Audit: AuditRecord{
			ScanID:        scanID.String(),
			MachineID:     row.MachineID,
			MachineName:   name,
			PerformanceID: row.PerformanceID,
			AnomalyScore:  score,
			IsAnomaly:     true,
			LogLevel:      string(sev),
			Timestamp:     now,
		},
	}
	if sev == dedup.SeverityHigh {
		f.Ticket = &dedup.Ticket{
			MachineID: row.MachineID,
			Issue:     name + ": Predicted failure risk - HIGH",
			Status:    dedup.StatusPending,
		}
	}
	return f
}

// AlertMessage is the alert text for an anomalous machine. The score is
// rounded so repeated scans of the same data yield the same message.
func AlertMessage(machine string, score float64) string {
	return fmt.Sprintf("%s: ML anomaly detected (score %.3f)", machine, score)
}

// LedgerPayload is the ledger entry recorded for a finding.
func LedgerPayload(scanID uuid.UUID, row performance.FeatureRow, score float64, sev dedup.Severity) string {
	return fmt.Sprintf("ANOMALY|ScanID=%s|PerformanceID=%d|MachineID=%d|Score=%.6f|Severity=%s",
		scanID, row.PerformanceID, row.MachineID, score, sev)
}
