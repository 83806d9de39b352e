package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes events as JSON on "<subject>.<kind>".
type NATSSink struct {
	pub     publisher
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url and publishes under subject.
func NewNATSSink(url, subject string, opts ...nats.Option) (*NATSSink, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{pub: nc, conn: nc, subject: subject}, nil
}

// LogEvent implements Sink.
func (s *NATSSink) LogEvent(ctx context.Context, kind string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(newEvent(kind, payload))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := s.pub.Publish(s.subject+"."+kind, data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if s == nil || s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}
