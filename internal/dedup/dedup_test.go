package dedup_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/SteelWatch/internal/dedup"
)

var ctx = context.Background()

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore() (*dedup.MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	s := dedup.NewMemoryStore()
	s.SetClock(clock.Now)
	return s, clock
}

func alert(machine int64, msg string) *dedup.Alert {
	return &dedup.Alert{MachineID: machine, Message: msg, Severity: dedup.SeverityMedium}
}

func TestInsertAlert_duplicateInsideWindowSuppressed(t *testing.T) {
	s, clock := newStore()

	ok, err := s.InsertAlert(ctx, alert(1, "Press-1: ML anomaly detected (score -0.120)"), time.Hour)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}

	clock.Advance(59 * time.Minute)
	ok, err = s.InsertAlert(ctx, alert(1, "Press-1: ML anomaly detected (score -0.120)"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("duplicate inside window should be suppressed")
	}

	alerts, _ := s.ListAlerts(ctx, 0)
	if len(alerts) != 1 {
		t.Errorf("expected exactly 1 alert, got %d", len(alerts))
	}
}

func TestInsertAlert_windowExpiryAllowsNewAlert(t *testing.T) {
	s, clock := newStore()

	_, _ = s.InsertAlert(ctx, alert(1, "overheat"), time.Hour)
	clock.Advance(61 * time.Minute)

	ok, err := s.InsertAlert(ctx, alert(1, "overheat"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("alert older than the window should no longer block")
	}
}

func TestInsertAlert_differentKeysIndependent(t *testing.T) {
	s, _ := newStore()

	for _, a := range []*dedup.Alert{alert(1, "a"), alert(2, "a"), alert(1, "b")} {
		ok, err := s.InsertAlert(ctx, a, time.Hour)
		if err != nil || !ok {
			t.Errorf("insert %+v: ok=%v err=%v", a, ok, err)
		}
	}
}

func TestInsertAlert_zeroWindowUsesDefault(t *testing.T) {
	s, clock := newStore()

	_, _ = s.InsertAlert(ctx, alert(1, "a"), 0)
	clock.Advance(30 * time.Minute)

	if ok, _ := s.InsertAlert(ctx, alert(1, "a"), 0); ok {
		t.Error("zero window should fall back to the 60 minute default")
	}
}

func TestInsertAlert_concurrentSameKeyInsertsOnce(t *testing.T) {
	s, _ := newStore()

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertAlert(ctx, alert(9, "same"), time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("expected exactly one insert, got %d", inserted)
	}
}

func TestInsertTicket_blocksUntilStatusChanges(t *testing.T) {
	s, clock := newStore()

	tk := &dedup.Ticket{MachineID: 3, Issue: "Furnace-3: Predicted failure risk - HIGH"}
	ok, err := s.InsertTicket(ctx, tk)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if tk.Status != dedup.StatusPending {
		t.Errorf("default status: got %q, want PENDING", tk.Status)
	}

	clock.Advance(30 * 24 * time.Hour)
	ok, _ = s.InsertTicket(ctx, &dedup.Ticket{MachineID: 3, Issue: tk.Issue})
	if ok {
		t.Fatal("pending ticket should block indefinitely")
	}

	if err := s.UpdateTicketStatus(ctx, tk.ID, dedup.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.InsertTicket(ctx, &dedup.Ticket{MachineID: 3, Issue: tk.Issue})
	if !ok {
		t.Error("ticket should be insertable once the previous one left PENDING")
	}
}

func TestUpdateTicketStatus_reopenConflictsWithPending(t *testing.T) {
	s, _ := newStore()
	issue := "Furnace-3: Predicted failure risk - HIGH"

	old := &dedup.Ticket{MachineID: 3, Issue: issue}
	_, _ = s.InsertTicket(ctx, old)
	if err := s.UpdateTicketStatus(ctx, old.ID, dedup.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	fresh := &dedup.Ticket{MachineID: 3, Issue: issue}
	if ok, _ := s.InsertTicket(ctx, fresh); !ok {
		t.Fatal("new pending ticket should be raised")
	}

	if err := s.UpdateTicketStatus(ctx, old.ID, dedup.StatusPending); !errors.Is(err, dedup.ErrTicketConflict) {
		t.Errorf("reopen while another is pending: expected ErrTicketConflict, got %v", err)
	}
	pending, _ := s.ListTickets(ctx, []dedup.TicketStatus{dedup.StatusPending}, 0)
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Errorf("exactly the fresh ticket should be pending, got %+v", pending)
	}

	// Closed tickets may share a key.
	if err := s.UpdateTicketStatus(ctx, fresh.ID, dedup.StatusCompleted); err != nil {
		t.Errorf("completing a second ticket for the same issue: %v", err)
	}
	if err := s.UpdateTicketStatus(ctx, old.ID, dedup.StatusPending); err != nil {
		t.Errorf("reopen once nothing is pending: %v", err)
	}
}

func TestUpdateTicketStatus_notFound(t *testing.T) {
	s, _ := newStore()
	if err := s.UpdateTicketStatus(ctx, 404, dedup.StatusCompleted); !errors.Is(err, dedup.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListTickets_filtersByStatus(t *testing.T) {
	s, _ := newStore()
	a := &dedup.Ticket{MachineID: 1, Issue: "a"}
	b := &dedup.Ticket{MachineID: 2, Issue: "b"}
	_, _ = s.InsertTicket(ctx, a)
	_, _ = s.InsertTicket(ctx, b)
	_ = s.UpdateTicketStatus(ctx, b.ID, dedup.StatusCompleted)

	pending, _ := s.ListTickets(ctx, []dedup.TicketStatus{dedup.StatusPending}, 0)
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Errorf("expected only ticket %d, got %+v", a.ID, pending)
	}

	all, _ := s.ListTickets(ctx, nil, 0)
	if len(all) != 2 {
		t.Errorf("expected 2 tickets without filter, got %d", len(all))
	}
}

func TestLatestPerKey(t *testing.T) {
	newest := &dedup.Alert{ID: 3, MachineID: 1, Message: "a"}
	older := &dedup.Alert{ID: 1, MachineID: 1, Message: "a"}
	other := &dedup.Alert{ID: 2, MachineID: 2, Message: "a"}

	got := dedup.LatestPerKey([]*dedup.Alert{newest, other, older})
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 2 {
		t.Errorf("LatestPerKey: got %+v", got)
	}
}

func TestTicketStatus_Valid(t *testing.T) {
	if !dedup.StatusScheduled.Valid() {
		t.Error("SCHEDULED should be valid")
	}
	if dedup.TicketStatus("DONE").Valid() {
		t.Error("DONE should be invalid")
	}
}
