package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/audit"
	"github.com/jmerrifield20/SteelWatch/internal/identity"
	"github.com/jmerrifield20/SteelWatch/internal/ledger"
)

// LedgerHandler exposes the event ledger over HTTP.
type LedgerHandler struct {
	ledger *ledger.Ledger
	sink   audit.Sink
	tokens *identity.AdminTokens
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler. tokens may be nil (open mode).
func NewLedgerHandler(l *ledger.Ledger, sink audit.Sink, tokens *identity.AdminTokens, logger *zap.Logger) *LedgerHandler {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &LedgerHandler{ledger: l, sink: sink, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/blocks", h.ListBlocks)
		l.GET("/blocks/:id", h.GetBlock)
		l.GET("/verify", h.Verify)
		l.POST("/repair", adminGuard(h.tokens), h.Repair)
		l.POST("/events", adminGuard(h.tokens), h.AppendEvent)
	}
}

// Overview handles GET /ledger: returns the block count and the tail hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	count, root, err := h.ledger.Root(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blocks": count,
		"root":   root,
	})
}

// ListBlocks handles GET /ledger/blocks: returns the chain in order.
func (h *LedgerHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.ledger.Blocks(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Blocks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)})
}

// GetBlock handles GET /ledger/blocks/:id.
func (h *LedgerHandler) GetBlock(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}

	b, err := h.ledger.Get(c.Request.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger Get", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// Verify handles GET /ledger/verify: walks the chain and reports integrity.
// A broken chain is still a 200: the report is the answer.
func (h *LedgerHandler) Verify(c *gin.Context) {
	report, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger Verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	if !report.Valid {
		h.logger.Warn("ledger integrity check failed", zap.Int("issues", len(report.Issues)))
	}
	c.JSON(http.StatusOK, report)
}

// Repair handles POST /ledger/repair: rebuilds the chain in place.
func (h *LedgerHandler) Repair(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.ledger.Repair(ctx)
	if err != nil {
		h.logger.Error("ledger Repair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "repair failed; ledger left unchanged"})
		return
	}

	payload := gin.H{"blocks": report.Total, "valid": report.Valid}
	if claims := identity.ClaimsFromCtx(c); claims != nil {
		payload["by"] = claims.Subject
	}
	if err := h.sink.LogEvent(ctx, audit.KindLedgerRepaired, payload); err != nil {
		h.logger.Warn("audit sink failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, report)
}

type appendRequest struct {
	Payload        string `json:"payload" binding:"required"`
	PerformanceRef *int64 `json:"performance_id"`
}

// AppendEvent handles POST /ledger/events: appends one domain event.
func (h *LedgerHandler) AppendEvent(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}

	b, err := h.ledger.Append(c.Request.Context(), req.Payload, req.PerformanceRef)
	if err != nil {
		h.logger.Error("ledger Append", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append event"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"block_id":  b.ID,
		"hash":      b.Hash,
		"prev_hash": b.PrevHash,
	})
}
