package dedup

import "time"

// Severity is the urgency of an alert.
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// TicketStatus is the lifecycle state of a maintenance ticket.
// Transitions other than creation happen outside the scan pipeline.
type TicketStatus string

const (
	StatusPending   TicketStatus = "PENDING"
	StatusScheduled TicketStatus = "SCHEDULED"
	StatusCompleted TicketStatus = "COMPLETED"
	StatusCancelled TicketStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DefaultAlertWindow is the suppression window applied when none is given.
const DefaultAlertWindow = 60 * time.Minute

// Alert is a notification raised against a machine.
type Alert struct {
	ID        int64     `json:"id"         db:"id"`
	MachineID int64     `json:"machine_id" db:"machine_id"`
	Message   string    `json:"message"    db:"message"`
	Severity  Severity  `json:"severity"   db:"severity"`
	Timestamp time.Time `json:"timestamp"  db:"created_at"`
}

// Ticket is a maintenance work item raised against a machine.
type Ticket struct {
	ID        int64        `json:"id"         db:"id"`
	MachineID int64        `json:"machine_id" db:"machine_id"`
	Issue     string       `json:"issue"      db:"issue"`
	Status    TicketStatus `json:"status"     db:"status"`
	Date      time.Time    `json:"date"       db:"created_at"`
}
