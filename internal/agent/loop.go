package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"jarvis/internal/domain"
)

const defaultBusyThreshold = 8

// Gateway feeds inbound messages from the bus to the dispatcher. Every
// message gets its own goroutine so a slow user never delays another one;
// per-user ordering and duplicate drops are the dispatcher's job.
type Gateway struct {
	bus        domain.MessageBus
	dispatcher *Dispatcher
	busy       int
	logger     *slog.Logger

	active atomic.Int64
	wg     sync.WaitGroup
}

type GatewayConfig struct {
	Bus        domain.MessageBus
	Dispatcher *Dispatcher
	// BusyThreshold is the number of concurrent dispatches above which the
	// gateway warns. It never holds messages back. Default 8.
	BusyThreshold int
	Logger        *slog.Logger
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.BusyThreshold <= 0 {
		cfg.BusyThreshold = defaultBusyThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{bus: cfg.Bus, dispatcher: cfg.Dispatcher, busy: cfg.BusyThreshold, logger: cfg.Logger}
}

// Active returns the number of dispatches currently running.
func (g *Gateway) Active() int { return int(g.active.Load()) }

// Run consumes inbound messages until ctx is done or the bus closes, then
// waits for dispatches in flight.
func (g *Gateway) Run(ctx context.Context) {
	g.logger.Info("gateway started", "busy_threshold", g.busy)

	inbound := g.bus.Subscribe()
	defer func() {
		g.wg.Wait()
		g.dispatcher.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("gateway stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				g.logger.Info("inbound channel closed, gateway stopping")
				return
			}
			if n := g.active.Add(1); n > int64(g.busy) {
				g.logger.Warn("many dispatches in flight", "active", n, "threshold", g.busy)
			}
			g.wg.Add(1)
			go func(m domain.InboundMessage) {
				defer func() {
					g.active.Add(-1)
					g.wg.Done()
				}()
				g.dispatcher.Handle(ctx, m)
			}(msg)
		}
	}
}
