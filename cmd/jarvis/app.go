package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jarvis/internal/admin"
	"jarvis/internal/agent"
	"jarvis/internal/bus"
	"jarvis/internal/chunk"
	"jarvis/internal/config"
	"jarvis/internal/delivery"
	"jarvis/internal/knowledge"
	"jarvis/internal/memory"
	"jarvis/internal/metrics"
	"jarvis/internal/nlp"
	"jarvis/internal/provider"
	"jarvis/internal/scheduler"
	"jarvis/internal/support"
)

// transport is what the app needs from a chat channel.
type transport interface {
	delivery.Sender
	agent.MediaSource
	Name() string
	Connected() bool
}

// app holds every long-lived component of a running bot.
type app struct {
	cfg        *config.Config
	bus        *bus.InMemoryBus
	store      *memory.SQLiteStore
	events     *bus.EventBus
	forwarder  *bus.Forwarder
	scheduler  *scheduler.Scheduler
	dispatcher *agent.Dispatcher
	gateway    *agent.Gateway
	metricsSrv *http.Server

	done chan struct{}
	once sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, tr transport) (*app, error) {
	dbPath := config.ExpandPath(cfg.Memory.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	a := &app{
		cfg:    cfg,
		bus:    bus.New(100, logger),
		store:  store,
		events: bus.NewEventBus(logger),
		done:   make(chan struct{}),
	}

	admins := admin.NewService(admin.Config{
		Store:             store,
		Admins:            cfg.Admin.Numbers,
		DefaultDailyLimit: cfg.Admin.DefaultDailyLimit,
		BackupDir:         config.ExpandPath(cfg.Admin.BackupDir),
		Logger:            logger,
	})
	if err := admins.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("admin init: %w", err)
	}

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.DefaultProvider()
	if err != nil || prov == nil {
		logger.Warn("no default provider, falling back to ollama", "err", err)
		prov = provider.NewOllama(provider.OllamaConfig{Logger: logger})
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}
	model := cfg.Providers[cfg.General.DefaultProvider].DefaultModel

	transcriber, err := factory.Transcriber()
	if err != nil {
		logger.Warn("voice transcription disabled", "err", err)
		transcriber = nil
	}

	conversations := memory.NewConversations(memory.ConversationsConfig{
		Store:        store,
		Provider:     prov,
		Model:        model,
		SystemPrompt: cfg.General.SystemPrompt,
		MaxHistory:   cfg.Memory.MaxHistoryPerConversation,
		Logger:       logger,
	})

	var documents *knowledge.Engine
	if cfg.Documents.Enabled {
		documents = knowledge.NewEngine(knowledge.EngineConfig{
			Store:      store,
			Provider:   prov,
			Model:      model,
			ChunkSize:  cfg.Documents.ChunkSize,
			MaxSize:    int64(cfg.Documents.MaxSizeMB) << 20,
			MaxPerUser: cfg.Documents.MaxPerUser,
			TopK:       cfg.Documents.SearchTopK,
			Logger:     logger,
		})
	}

	loc := cfg.Business.Location()
	shortcuts := nlp.New(nlp.Config{Store: store, Location: loc, Logger: logger})
	tickets := support.New(support.Config{Store: store, Logger: logger})

	a.scheduler = scheduler.New(scheduler.Config{
		Store:   store,
		Bus:     a.bus,
		Channel: tr.Name(),
		Logger:  logger,
	})

	features := cfg.Interaction.Features
	out := delivery.New(delivery.Config{
		Sender:          tr,
		Chunking:        chunkOptions(cfg.Interaction.Chunking),
		Delays:          chunkDelays(cfg.Interaction.Delays),
		Reading:         features.Reading,
		TypingIndicator: features.TypingIndicator,
		Logger:          logger,
	})

	typingDelay := time.Duration(cfg.Interaction.Delays.InitialTyping) * time.Millisecond
	commands := agent.NewCommandRouter(agent.CommandRouterConfig{
		Conversations: conversations,
		Admin:         admins,
		Scheduler:     a.scheduler,
		Documents:     documents,
		Support:       tickets,
		Delivery:      out,
		Health: agent.HealthChecks{
			Provider:  prov.Healthy,
			Connected: tr.Connected,
		},
		Business:    cfg.Business,
		Model:       model,
		TypingDelay: typingDelay,
		Logger:      logger,
	})

	a.dispatcher = agent.NewDispatcher(agent.DispatcherConfig{
		Transport:     tr,
		Delivery:      out,
		Conversations: conversations,
		Shortcuts:     shortcuts,
		Commands:      commands,
		Admin:         admins,
		Documents:     documents,
		Transcriber:   transcriber,
		Events:        a.events,
		Interaction:   cfg.Interaction,
		ReplyInGroups: cfg.WhatsApp.ReplyInGroups,
		TypingDelay:   typingDelay,
		Logger:        logger,
	})
	a.gateway = agent.NewGateway(agent.GatewayConfig{
		Bus:           a.bus,
		Dispatcher:    a.dispatcher,
		BusyThreshold: cfg.General.MaxConcurrentMessages,
		Logger:        logger,
	})

	if cfg.Events.AMQPURL != "" {
		pub, err := bus.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Warn("event forwarding disabled", "err", err)
		} else {
			a.forwarder = bus.NewForwarder(pub, cfg.Events.Source, logger)
			a.forwarder.Attach(a.events)
			logger.Info("forwarding events", "exchange", cfg.Events.Exchange)
		}
	}

	if cfg.General.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		a.metricsSrv = &http.Server{Addr: cfg.General.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return a, nil
}

// Serve runs the scheduler, the metrics endpoint and the gateway until ctx
// is done.
func (a *app) Serve(ctx context.Context) {
	defer close(a.done)

	go a.scheduler.Start(ctx)
	if a.metricsSrv != nil {
		go func() {
			logger.Info("metrics listening", "addr", a.metricsSrv.Addr)
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	a.gateway.Run(ctx)
}

// Shutdown stops intake and waits up to timeout for dispatches in flight.
func (a *app) Shutdown(timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.scheduler.Stop()
	a.bus.Close()
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}

	select {
	case <-a.done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// Close releases the store and the event forwarder.
func (a *app) Close() {
	a.once.Do(func() {
		if a.forwarder != nil {
			if err := a.forwarder.Close(); err != nil {
				logger.Warn("close event forwarder", "err", err)
			}
		}
		if err := a.store.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
	})
}

func chunkOptions(c config.ChunkingConfig) chunk.Options {
	return chunk.Options{
		MaxLines:  c.MaxLinesPerChunk,
		MaxLength: c.MaxChunkLength,
		MinLength: c.MinChunkLength,
	}
}

func chunkDelays(d config.DelaysConfig) chunk.Delays {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	def := chunk.DefaultDelays()
	return chunk.Delays{
		TypingBase:     ms(d.TypingBase),
		TypingPerWord:  ms(d.TypingPerWord),
		TypingPerPunct: ms(d.TypingPerPunct),
		TypingMin:      ms(d.TypingMin),
		TypingMax:      ms(d.TypingMax),
		ReadingPerWord: ms(d.ReadingPerWord),
		ReadingMin:     ms(d.ReadingMin),
		ReadingMax:     ms(d.ReadingMax),
		ReadingJitter:  def.ReadingJitter,
		ShortPause:     ms(d.ShortPause),
		MediumPause:    ms(d.MediumPause),
		LongPause:      ms(d.LongPause),
	}
}
