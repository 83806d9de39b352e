package audit_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmerrifield20/SteelWatch/internal/audit"
)

var ctx = context.Background()

type failingSink struct{ err error }

func (f failingSink) LogEvent(context.Context, string, any) error { return f.err }

func TestLogSink_writesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := audit.NewLogSink(zap.New(core))

	if err := s.LogEvent(ctx, audit.KindAnomalyDetected, map[string]any{"score": -0.3}); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterMessage("audit event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if kind := entries[0].ContextMap()["kind"]; kind != audit.KindAnomalyDetected {
		t.Errorf("kind field: got %v", kind)
	}
}

func TestMulti_attemptsAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	core, logs := observer.New(zapcore.InfoLevel)

	m := audit.Multi{failingSink{errA}, audit.NewLogSink(zap.New(core)), failingSink{errB}}
	err := m.LogEvent(ctx, "k", nil)

	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected both errors joined, got %v", err)
	}
	if logs.Len() != 1 {
		t.Error("sink after a failing one should still receive the event")
	}
}

func TestMulti_emptyIsNil(t *testing.T) {
	if err := (audit.Multi{audit.Nop{}}).LogEvent(ctx, "k", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWebhookSink_signsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(audit.SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := audit.NewWebhookSink(srv.URL, "s3cret")
	if err := s.LogEvent(ctx, audit.KindLedgerRepaired, map[string]int{"blocks": 3}); err != nil {
		t.Fatal(err)
	}
	if want := audit.Sign(gotBody, "s3cret"); gotSig != want {
		t.Errorf("signature: got %q, want %q", gotSig, want)
	}
}

func TestWebhookSink_non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := audit.NewWebhookSink(srv.URL, "").LogEvent(ctx, "k", nil); err == nil {
		t.Error("expected error on 502")
	}
}
