package performance_test

import (
	"context"
	"math"
	"testing"

	"github.com/jmerrifield20/SteelWatch/internal/performance"
)

func TestRecord_OEE(t *testing.T) {
	tests := []struct {
		name string
		rec  performance.Record
		want float64
	}{
		{
			name: "typical run",
			rec: performance.Record{
				OperatingTime: 420, Downtime: 60,
				ActualOutput: 900, IdealOutput: 1000,
				GoodUnits: 855, TotalUnits: 900,
			},
			// 0.875 * 0.9 * 0.95 * 100
			want: 74.8125,
		},
		{
			name: "no planned time",
			rec:  performance.Record{IdealOutput: 10, TotalUnits: 10, GoodUnits: 10, ActualOutput: 10},
			want: 0,
		},
		{
			name: "zero ideal output",
			rec:  performance.Record{OperatingTime: 10, TotalUnits: 10},
			want: 0,
		},
		{
			name: "zero total units",
			rec:  performance.Record{OperatingTime: 10, IdealOutput: 10},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.OEE(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("OEE: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_Row(t *testing.T) {
	rec := performance.Record{
		ID: 7, MachineID: 2, MachineName: "Rolling Mill",
		OperatingTime: 100, Downtime: 0,
		ActualOutput: 50, IdealOutput: 50, GoodUnits: 50, TotalUnits: 50,
	}
	row := rec.Row()
	if row.PerformanceID != 7 || row.MachineID != 2 || row.OEE != 100 || row.ActualOutput != 50 {
		t.Errorf("unexpected row: %+v", row)
	}
}

func TestFeatureRow_Label(t *testing.T) {
	if got := (performance.FeatureRow{MachineID: 3, MachineName: "Furnace"}).Label(); got != "Furnace" {
		t.Errorf("named: got %q", got)
	}
	if got := (performance.FeatureRow{MachineID: 3}).Label(); got != "Machine 3" {
		t.Errorf("unnamed: got %q", got)
	}
}

func TestStaticSource_returnsCopy(t *testing.T) {
	src := performance.StaticSource{{PerformanceID: 1}}
	rows, _ := src.Features(context.Background())
	rows[0].PerformanceID = 99
	if src[0].PerformanceID != 1 {
		t.Error("Features should not alias the source slice")
	}
}
