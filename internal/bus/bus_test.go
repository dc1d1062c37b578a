package bus

import (
	"testing"
	"time"

	"jarvis/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(2, testEBLogger())

	b.Publish(domain.InboundMessage{ID: "1", Channel: "whatsapp", Body: "salut"})
	got := <-b.Subscribe()
	if got.ID != "1" || got.Body != "salut" {
		t.Fatalf("unexpected message %+v", got)
	}

	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{ID: "2"})
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("subscription should be closed")
	}
}

func TestInMemoryBus_OutboundRouting(t *testing.T) {
	b := New(1, testEBLogger())

	var sent []domain.OutboundMessage
	b.OnOutbound("whatsapp", func(m domain.OutboundMessage) { sent = append(sent, m) })

	b.SendOutbound(domain.OutboundMessage{Channel: "whatsapp", To: "225070000001", Content: "Rappel"})
	b.SendOutbound(domain.OutboundMessage{Channel: "sms", To: "x", Content: "ignored"})

	if len(sent) != 1 || sent[0].Content != "Rappel" {
		t.Fatalf("unexpected deliveries %+v", sent)
	}
}

func TestInMemoryBus_CloseReleasesBlockedPublisher(t *testing.T) {
	b := New(1, testEBLogger())
	b.Publish(domain.InboundMessage{ID: "1"})

	published := make(chan struct{})
	go func() {
		b.Publish(domain.InboundMessage{ID: "2"})
		close(published)
	}()

	// Let the publisher reach the full-buffer wait.
	time.Sleep(50 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a waiting publisher")
	}
	<-published

	var ids []string
	for m := range b.Subscribe() {
		ids = append(ids, m.ID)
	}
	if len(ids) != 1 || ids[0] != "1" {
		t.Fatalf("unexpected drained messages %v", ids)
	}
}

func TestInMemoryBus_DropsAfterTimeout(t *testing.T) {
	b := New(1, testEBLogger())
	b.timeout = 10 * time.Millisecond
	b.Publish(domain.InboundMessage{ID: "1"})
	b.Publish(domain.InboundMessage{ID: "2"})

	if got := <-b.Subscribe(); got.ID != "1" {
		t.Fatalf("unexpected message %+v", got)
	}
	select {
	case m := <-b.Subscribe():
		t.Fatalf("message %q should have been dropped", m.ID)
	default:
	}
}
