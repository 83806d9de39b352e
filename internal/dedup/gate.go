// Package dedup suppresses duplicate alert and maintenance-ticket inserts.
//
// Alerts are keyed by (machine, message) and suppressed while a matching alert
// younger than the window exists; once it ages out a new alert may be raised.
// Tickets are keyed by (machine, issue, status) with no window: a matching
// ticket blocks new ones for as long as it stays in that status.
//
// The existence check and the insert are one atomic step in every Gate.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a ticket does not exist.
	ErrNotFound = errors.New("ticket not found")
	// ErrTicketConflict is returned when a ticket is moved back to PENDING
	// while another PENDING ticket holds the same (machine, issue).
	ErrTicketConflict = errors.New("another ticket is already pending")
)

// Gate inserts alerts and tickets only when no blocking duplicate exists.
// A false result with a nil error means the record was suppressed.
type Gate interface {
	InsertAlert(ctx context.Context, a *Alert, window time.Duration) (bool, error)
	InsertTicket(ctx context.Context, t *Ticket) (bool, error)
}

// Store is a Gate with the read and status-transition operations used by
// the dashboard API.
type Store interface {
	Gate
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
	ListTickets(ctx context.Context, statuses []TicketStatus, limit int) ([]*Ticket, error)
	// UpdateTicketStatus moves a ticket to status. Reopening a ticket fails
	// with ErrTicketConflict rather than leave two PENDING tickets under one
	// key; closed tickets may share a key freely.
	UpdateTicketStatus(ctx context.Context, id int64, status TicketStatus) error
}

// AlertKey is the suppression key of an alert.
func AlertKey(machineID int64, message string) string {
	return fmt.Sprintf("alert|%d|%s", machineID, message)
}

// TicketKey is the suppression key of a ticket.
func TicketKey(machineID int64, issue string, status TicketStatus) string {
	return fmt.Sprintf("ticket|%d|%s|%s", machineID, issue, status)
}

func effectiveWindow(w time.Duration) time.Duration {
	if w <= 0 {
		return DefaultAlertWindow
	}
	return w
}

// LatestPerKey keeps the first alert seen per (machine, message), so with
// newest-first input it returns the newest of each.
func LatestPerKey(alerts []*Alert) []*Alert {
	seen := make(map[string]bool, len(alerts))
	out := make([]*Alert, 0, len(alerts))
	for _, a := range alerts {
		k := AlertKey(a.MachineID, a.Message)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}
