package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
	"github.com/jmerrifield20/SteelWatch/internal/identity"
)

// ScanHandler triggers anomaly scans and serves the current snapshot.
type ScanHandler struct {
	scanner  *anomaly.Scanner
	snapshot anomaly.SnapshotStore
	tokens   *identity.AdminTokens
	logger   *zap.Logger
}

// NewScanHandler creates a new ScanHandler. tokens may be nil (open mode).
func NewScanHandler(scanner *anomaly.Scanner, snapshot anomaly.SnapshotStore, tokens *identity.AdminTokens, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, snapshot: snapshot, tokens: tokens, logger: logger}
}

// Register mounts the scan routes on the given router group.
func (h *ScanHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/scans", adminGuard(h.tokens), h.Trigger)
	rg.GET("/scans/status", h.Status)
	rg.GET("/anomalies", h.Anomalies)
}

// Trigger handles POST /scans: runs one scan synchronously.
func (h *ScanHandler) Trigger(c *gin.Context) {
	res, err := h.scanner.Scan(c.Request.Context())
	switch {
	case errors.Is(err, anomaly.ErrScanInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "a scan is already running"})
	case errors.Is(err, anomaly.ErrScoringUnavailable):
		c.JSON(http.StatusOK, gin.H{"result": res, "warning": "scoring unavailable; nothing was changed"})
	case err != nil && res != nil && res.AnomaliesFound > 0:
		c.JSON(http.StatusOK, gin.H{"result": res, "warning": "some records could not be written"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"result": res})
	}
}

// Status handles GET /scans/status.
func (h *ScanHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scanner.Status())
}

// Anomalies handles GET /anomalies: returns the latest snapshot. Pass
// ?flagged=true to keep only anomalous rows.
func (h *ScanHandler) Anomalies(c *gin.Context) {
	rows, err := h.snapshot.List(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read anomalies"})
		return
	}
	if c.Query("flagged") == "true" {
		kept := rows[:0]
		for _, r := range rows {
			if r.IsAnomaly {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": rows, "count": len(rows)})
}
