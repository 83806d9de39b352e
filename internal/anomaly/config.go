package anomaly

import (
	"time"

	"github.com/jmerrifield20/SteelWatch/internal/dedup"
)

// Config holds scan thresholds.
type Config struct {
	// MinRows is the smallest input a scan will score.
	MinRows int
	// Inputs smaller than SmallSampleSize use SmallContamination.
	SmallSampleSize    int
	SmallContamination float64
	Contamination      float64
	// Scores strictly below HighSeverityScore are HIGH.
	HighSeverityScore float64
	AlertWindow       time.Duration
	// AuditTimeout bounds each audit sink call.
	AuditTimeout time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinRows:            5,
		SmallSampleSize:    20,
		SmallContamination: 0.20,
		Contamination:      0.10,
		HighSeverityScore:  -0.25,
		AlertWindow:        dedup.DefaultAlertWindow,
		AuditTimeout:       5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. A zero
// HighSeverityScore counts as unset.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinRows <= 0 {
		c.MinRows = d.MinRows
	}
	if c.SmallSampleSize <= 0 {
		c.SmallSampleSize = d.SmallSampleSize
	}
	if c.SmallContamination <= 0 {
		c.SmallContamination = d.SmallContamination
	}
	if c.Contamination <= 0 {
		c.Contamination = d.Contamination
	}
	if c.HighSeverityScore == 0 {
		c.HighSeverityScore = d.HighSeverityScore
	}
	if c.AlertWindow <= 0 {
		c.AlertWindow = d.AlertWindow
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = d.AuditTimeout
	}
	return c
}

// ContaminationFor returns the assumed anomaly fraction for n rows.
func (c Config) ContaminationFor(n int) float64 {
	if n < c.SmallSampleSize {
		return c.SmallContamination
	}
	return c.Contamination
}

// Severity classifies an anomalous score.
func (c Config) Severity(score float64) dedup.Severity {
	if score < c.HighSeverityScore {
		return dedup.SeverityHigh
	}
	return dedup.SeverityMedium
}
