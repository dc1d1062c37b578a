// Package bus carries inbound messages from transports to the gateway,
// routes outbound messages (reminders, scheduled sends) back to the right
// transport, and fans dispatch events out to in-process and AMQP listeners.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"jarvis/internal/domain"
	"jarvis/internal/metrics"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is the channel-backed domain.MessageBus.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	closed   bool
	handlers map[string]func(domain.OutboundMessage)
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a bus buffering up to bufferSize inbound messages (default 100).
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]func(domain.OutboundMessage)),
		timeout:  publishTimeout,
		logger:   logger,
	}
}

// Publish queues msg for the gateway. When the buffer is full it waits up
// to 10s, then drops the message. Publishing after Close is a no-op.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "channel", msg.Channel, "id", msg.ID)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.Sender)
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-b.done:
		metrics.Drop("shutdown").Inc()
	case <-timer.C:
		metrics.Drop("bus_full").Inc()
		b.logger.Error("message dropped: bus full", "channel", msg.Channel, "sender", msg.Sender, "waited", b.timeout)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound hands msg to the handler registered for msg.Channel.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler", "channel", msg.Channel, "to", msg.To)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

// Close stops intake and closes the subscription channel. Publishers
// blocked on a full buffer give up first so Close never waits on them.
func (b *InMemoryBus) Close() {
	b.stopOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
