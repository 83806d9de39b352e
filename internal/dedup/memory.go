package dedup

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.Mutex
	alerts  []*Alert
	tickets []*Ticket
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock replaces the clock used to timestamp inserts and evaluate windows.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

// InsertAlert implements Gate.
func (s *MemoryStore) InsertAlert(_ context.Context, a *Alert, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cutoff := now.Add(-effectiveWindow(window))
	for _, existing := range s.alerts {
		if existing.MachineID == a.MachineID &&
			existing.Message == a.Message &&
			existing.Timestamp.After(cutoff) {
			return false, nil
		}
	}

	s.nextID++
	a.ID = s.nextID
	a.Timestamp = now
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return true, nil
}

// InsertTicket implements Gate.
func (s *MemoryStore) InsertTicket(_ context.Context, t *Ticket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = StatusPending
	}
	for _, existing := range s.tickets {
		if existing.MachineID == t.MachineID &&
			existing.Issue == t.Issue &&
			existing.Status == t.Status {
			return false, nil
		}
	}

	s.nextID++
	t.ID = s.nextID
	t.Date = s.now().UTC()
	cp := *t
	s.tickets = append(s.tickets, &cp)
	return true, nil
}

// ListAlerts implements Store, newest first.
func (s *MemoryStore) ListAlerts(_ context.Context, limit int) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Alert, 0, len(s.alerts))
	for i := len(s.alerts) - 1; i >= 0; i-- {
		cp := *s.alerts[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListTickets implements Store, newest first. An empty statuses slice
// matches every status.
func (s *MemoryStore) ListTickets(_ context.Context, statuses []TicketStatus, limit int) ([]*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Ticket, 0, len(s.tickets))
	for i := len(s.tickets) - 1; i >= 0; i-- {
		t := s.tickets[i]
		if len(statuses) > 0 && !slices.Contains(statuses, t.Status) {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpdateTicketStatus implements Store.
func (s *MemoryStore) UpdateTicketStatus(_ context.Context, id int64, status TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Ticket
	for _, t := range s.tickets {
		if t.ID == id {
			target = t
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	for _, t := range s.tickets {
		if status == StatusPending && t.ID != id && t.MachineID == target.MachineID && t.Issue == target.Issue && t.Status == status {
			return ErrTicketConflict
		}
	}
	target.Status = status
	return nil
}
