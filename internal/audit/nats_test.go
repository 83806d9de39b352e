package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type recordingPublisher struct {
	subjects []string
	data     [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subj string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subj)
	p.data = append(p.data, data)
	return nil
}

func TestNATSSink_publishesOnKindSubject(t *testing.T) {
	pub := &recordingPublisher{}
	s := &NATSSink{pub: pub, subject: "steelwatch.audit"}

	if err := s.LogEvent(context.Background(), KindAnomalyDetected, map[string]any{"machine_id": 4}); err != nil {
		t.Fatal(err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "steelwatch.audit.anomaly.detected" {
		t.Fatalf("unexpected subjects: %v", pub.subjects)
	}

	var ev struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(pub.data[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindAnomalyDetected || ev.Payload["machine_id"] != float64(4) {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestNATSSink_publishError(t *testing.T) {
	s := &NATSSink{pub: &recordingPublisher{err: errors.New("nats: connection closed")}, subject: "a"}
	if err := s.LogEvent(context.Background(), "k", nil); err == nil {
		t.Error("expected publish error")
	}
}

func TestNATSSink_cancelledContext(t *testing.T) {
	pub := &recordingPublisher{}
	s := &NATSSink{pub: pub, subject: "a"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.LogEvent(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(pub.subjects) != 0 {
		t.Error("nothing should be published after cancellation")
	}
}
