// Package performance provides the per-run production figures that anomaly
// scans consume as feature rows.
package performance

import (
	"context"
	"strconv"
)

// Record is one production run as stored upstream.
type Record struct {
	ID            int64   `db:"id"`
	MachineID     int64   `db:"machine_id"`
	MachineName   string  `db:"machine_name"`
	OperatingTime float64 `db:"operating_time"`
	Downtime      float64 `db:"downtime"`
	ActualOutput  int64   `db:"actual_output"`
	IdealOutput   int64   `db:"ideal_output"`
	GoodUnits     int64   `db:"good_units"`
	TotalUnits    int64   `db:"total_units"`
}

// OEE returns overall equipment effectiveness as a percentage:
// availability × performance × quality × 100. It is 0 when planned time,
// ideal output or total units is not positive.
func (r *Record) OEE() float64 {
	planned := r.OperatingTime + r.Downtime
	if planned <= 0 || r.IdealOutput <= 0 || r.TotalUnits <= 0 {
		return 0
	}
	availability := r.OperatingTime / planned
	perf := float64(r.ActualOutput) / float64(r.IdealOutput)
	quality := float64(r.GoodUnits) / float64(r.TotalUnits)
	return availability * perf * quality * 100
}

// Row converts r into a feature row.
func (r *Record) Row() FeatureRow {
	return FeatureRow{
		PerformanceID: r.ID,
		MachineID:     r.MachineID,
		MachineName:   r.MachineName,
		OEE:           r.OEE(),
		Downtime:      r.Downtime,
		ActualOutput:  float64(r.ActualOutput),
	}
}

// FeatureRow is the input tuple of a scan.
type FeatureRow struct {
	PerformanceID int64   `json:"performance_id"`
	MachineID     int64   `json:"machine_id"`
	MachineName   string  `json:"machine_name,omitempty"`
	OEE           float64 `json:"oee"`
	Downtime      float64 `json:"downtime"`
	ActualOutput  float64 `json:"actual_output"`
}

// Label is the machine's display name, or "Machine <id>" when unnamed.
func (f FeatureRow) Label() string {
	if f.MachineName != "" {
		return f.MachineName
	}
	return "Machine " + strconv.FormatInt(f.MachineID, 10)
}

// Source supplies feature rows on demand, ordered by performance ID.
type Source interface {
	Features(ctx context.Context) ([]FeatureRow, error)
}

// StaticSource is a fixed Source.
type StaticSource []FeatureRow

// Features implements Source.
func (s StaticSource) Features(context.Context) ([]FeatureRow, error) {
	out := make([]FeatureRow, len(s))
	copy(out, s)
	return out, nil
}
