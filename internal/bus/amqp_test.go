package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestForwarder_PublishesEnvelopes(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	pub := &fakePublisher{}
	fw := NewForwarder(pub, "jarvis", testEBLogger())
	fw.Attach(eb)

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	eb.Emit(Event{
		ID:            "evt-1",
		Type:          EventMessageDropped,
		CorrelationID: "wamid-42",
		Payload:       map[string]any{"gate": "maintenance"},
		Timestamp:     at,
	})
	eb.Emit(Event{Type: EventReplySent})

	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	if !pub.closed {
		t.Fatal("publisher not closed")
	}
	if len(pub.keys) != 2 || pub.keys[0] != "jarvis.message.dropped.v1" {
		t.Fatalf("unexpected routing keys %v", pub.keys)
	}

	var env struct {
		Meta map[string]any `json:"meta"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(pub.bodies[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Meta["id"] != "evt-1" || env.Meta["correlation_id"] != "wamid-42" || env.Meta["producer"] != "jarvis" {
		t.Fatalf("unexpected meta %v", env.Meta)
	}
	if env.Meta["time"] != "2026-10-19T08:00:00Z" || env.Data["gate"] != "maintenance" {
		t.Fatalf("unexpected envelope %s", pub.bodies[0])
	}
}

func TestForwarder_CloseIsIdempotent(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	fw := NewForwarder(&fakePublisher{}, "jarvis", testEBLogger())
	fw.Attach(eb)

	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fw.Close(); err != nil {
		t.Fatal(err)
	}
	eb.Emit(Event{Type: EventReplySent})
}
