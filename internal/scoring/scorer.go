// Package scoring assigns an anomaly label and score to performance feature
// rows. Lower scores are more anomalous; a row is labelled anomalous when its
// score is negative relative to the contamination threshold.
package scoring

import (
	"context"
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned when a scorer's output does not line up with
// its input rows.
var ErrLengthMismatch = errors.New("scorer output length does not match input")

// Label is the classification of a single row.
type Label string

const (
	LabelNormal  Label = "normal"
	LabelAnomaly Label = "anomaly"
)

// Feature is one input row: OEE, downtime, actual output.
type Feature [3]float64

// Result holds one label and one score per input row, in input order.
type Result struct {
	Labels []Label   `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Scorer scores feature rows given the assumed fraction of anomalies.
// Implementations must be deterministic for identical input.
type Scorer interface {
	Score(ctx context.Context, features []Feature, contamination float64) (*Result, error)
}

// check validates that r describes exactly n rows.
func (r *Result) check(n int) error {
	if r == nil || len(r.Labels) != n || len(r.Scores) != n {
		return ErrLengthMismatch
	}
	for i, l := range r.Labels {
		if l != LabelNormal && l != LabelAnomaly {
			return fmt.Errorf("row %d: unknown label %q", i, l)
		}
	}
	return nil
}

func validContamination(c float64) error {
	if c <= 0 || c > 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5], got %g", c)
	}
	return nil
}
