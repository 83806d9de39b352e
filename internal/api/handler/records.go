package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/dedup"
	"github.com/jmerrifield20/SteelWatch/internal/identity"
)

var defaultTicketStatuses = []dedup.TicketStatus{dedup.StatusPending, dedup.StatusScheduled}

// RecordsHandler serves alerts and maintenance tickets.
type RecordsHandler struct {
	store  dedup.Store
	tokens *identity.AdminTokens
	logger *zap.Logger
}

// NewRecordsHandler creates a new RecordsHandler. tokens may be nil (open mode).
func NewRecordsHandler(store dedup.Store, tokens *identity.AdminTokens, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{store: store, tokens: tokens, logger: logger}
}

// Register mounts the alert and maintenance routes on the given router group.
func (h *RecordsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/alerts", h.ListAlerts)
	rg.GET("/maintenance", h.ListTickets)
	rg.PATCH("/maintenance/:id", adminGuard(h.tokens), h.UpdateTicket)
}

// ListAlerts handles GET /alerts: newest first, one per machine and message.
func (h *RecordsHandler) ListAlerts(c *gin.Context) {
	limit := queryLimit(c, 100)
	alerts, err := h.store.ListAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ListAlerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	alerts = dedup.LatestPerKey(alerts)
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// ListTickets handles GET /maintenance?status=PENDING,SCHEDULED.
func (h *RecordsHandler) ListTickets(c *gin.Context) {
	statuses := defaultTicketStatuses
	if raw := c.Query("status"); raw != "" {
		statuses = nil
		for _, s := range strings.Split(raw, ",") {
			st := dedup.TicketStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !st.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + s})
				return
			}
			statuses = append(statuses, st)
		}
	}

	tickets, err := h.store.ListTickets(c.Request.Context(), statuses, queryLimit(c, 100))
	if err != nil {
		h.logger.Error("ListTickets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list maintenance tickets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

type updateTicketRequest struct {
	Status dedup.TicketStatus `json:"status" binding:"required"`
}

// UpdateTicket handles PATCH /maintenance/:id. Moving a ticket out of
// PENDING lets the scan raise a new one for the same issue; moving it back
// while another is pending is a 409.
func (h *RecordsHandler) UpdateTicket(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of PENDING, SCHEDULED, COMPLETED, CANCELLED"})
		return
	}

	err = h.store.UpdateTicketStatus(c.Request.Context(), id, req.Status)
	if errors.Is(err, dedup.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	if errors.Is(err, dedup.ErrTicketConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "another ticket for this machine and issue already has that status"})
		return
	}
	if err != nil {
		h.logger.Error("UpdateTicketStatus", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update ticket"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}
