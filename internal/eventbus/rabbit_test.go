package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestRabbitPublisher_QueueRouting(t *testing.T) {
	p := newRabbitPublisher(RabbitConfig{Dedicated: []string{"call.missed", " "}}.withDefaults(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if got := p.QueueFor("call.answered"); got != "triage_events" {
		t.Fatalf("expected shared queue, got %q", got)
	}
	if got := p.QueueFor("call.missed"); got != "triage_call_missed" {
		t.Fatalf("expected dedicated queue, got %q", got)
	}
}

func TestRabbitPublisher_PublishWithoutConnection(t *testing.T) {
	p := newRabbitPublisher(RabbitConfig{}.withDefaults(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.Publish(context.Background(), "call.answered", []byte(`{}`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRabbitPublisher_RequiresURL(t *testing.T) {
	if _, err := NewRabbitPublisher(RabbitConfig{}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
