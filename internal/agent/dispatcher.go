package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"jarvis/internal/admin"
	"jarvis/internal/bus"
	"jarvis/internal/config"
	"jarvis/internal/delivery"
	"jarvis/internal/domain"
	"jarvis/internal/knowledge"
	"jarvis/internal/memory"
	"jarvis/internal/metrics"
	"jarvis/internal/nlp"
)

// Notices sent by the dispatcher itself.
const (
	MaintenanceNotice = "🔧 Le bot est actuellement en maintenance. Veuillez réessayer plus tard."
	LimitNotice       = "⚠️ Vous avez atteint votre limite de messages quotidienne. Revenez demain!"
	ReadonlyNotice    = "👁️ Le bot est en mode lecture seule. Les conversations ne sont pas sauvegardées."
	ApologyNotice     = "❌ Une erreur est survenue. Veuillez réessayer plus tard."
	DocumentAck       = "📄 Document reçu! Je vais l'analyser..."
	DocumentFailed    = "❌ Erreur lors du traitement du document. Formats supportés: TXT, CSV, Markdown, JSON"
)

const (
	defaultTypingDelay       = 3 * time.Second
	defaultTranscribeTimeout = 30 * time.Second
)

// DispatcherState holds the per-user in-flight sets. It is shared by every
// dispatch of one Dispatcher; tests build their own.
type DispatcherState struct {
	mu    sync.Mutex
	text  map[string]struct{}
	voice map[string]struct{}
}

func NewDispatcherState() *DispatcherState {
	return &DispatcherState{text: make(map[string]struct{}), voice: make(map[string]struct{})}
}

func acquire(mu *sync.Mutex, set map[string]struct{}, id string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, busy := set[id]; busy {
		return false
	}
	set[id] = struct{}{}
	return true
}

func (s *DispatcherState) AcquireText(id string) bool  { return acquire(&s.mu, s.text, id) }
func (s *DispatcherState) AcquireVoice(id string) bool { return acquire(&s.mu, s.voice, id) }

func (s *DispatcherState) ReleaseText(id string) {
	s.mu.Lock()
	delete(s.text, id)
	s.mu.Unlock()
}

func (s *DispatcherState) ReleaseVoice(id string) {
	s.mu.Lock()
	delete(s.voice, id)
	s.mu.Unlock()
}

// InFlight reports whether id holds the text or the voice lock.
func (s *DispatcherState) InFlight(id string) (text, voice bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, text = s.text[id]
	_, voice = s.voice[id]
	return text, voice
}

// MediaSource is the part of the transport the dispatcher reads from.
type MediaSource interface {
	BotID() string
	Download(ctx context.Context, ref *domain.MediaRef) (*domain.Media, error)
}

// Dispatcher decides, for each inbound message, whether and how to answer.
type Dispatcher struct {
	media         MediaSource
	delivery      *delivery.Channel
	conversations *memory.Conversations
	shortcuts     *nlp.Router
	commands      *CommandRouter
	admins        *admin.Service
	documents     *knowledge.Engine
	transcriber   domain.Transcriber
	events        *bus.EventBus
	state         *DispatcherState
	interaction   config.InteractionConfig
	replyInGroups bool
	typingDelay   time.Duration
	logger        *slog.Logger

	wg sync.WaitGroup // voice goroutines
}

type DispatcherConfig struct {
	Transport     MediaSource
	Delivery      *delivery.Channel
	Conversations *memory.Conversations
	Shortcuts     *nlp.Router
	Commands      *CommandRouter
	Admin         *admin.Service
	Documents     *knowledge.Engine  // nil: documents are answered with the generic failure
	Transcriber   domain.Transcriber // nil disables voice
	Events        *bus.EventBus      // optional
	State         *DispatcherState   // default: a fresh state
	Interaction   config.InteractionConfig
	ReplyInGroups bool
	// TypingDelay is the pause before any reply. The admin setting
	// typing_delay overrides it at runtime. Default 3s.
	TypingDelay time.Duration
	Logger      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.State == nil {
		cfg.State = NewDispatcherState()
	}
	if cfg.TypingDelay <= 0 {
		cfg.TypingDelay = defaultTypingDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		media:         cfg.Transport,
		delivery:      cfg.Delivery,
		conversations: cfg.Conversations,
		shortcuts:     cfg.Shortcuts,
		commands:      cfg.Commands,
		admins:        cfg.Admin,
		documents:     cfg.Documents,
		transcriber:   cfg.Transcriber,
		events:        cfg.Events,
		state:         cfg.State,
		interaction:   cfg.Interaction,
		replyInGroups: cfg.ReplyInGroups,
		typingDelay:   cfg.TypingDelay,
		logger:        cfg.Logger,
	}
}

// State exposes the in-flight sets.
func (d *Dispatcher) State() *DispatcherState { return d.state }

// Wait blocks until background voice dispatches are done.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) emit(typ, correlationID string, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Emit(bus.Event{Type: typ, CorrelationID: correlationID, Payload: payload})
}

func (d *Dispatcher) drop(msg domain.InboundMessage, gate string) {
	metrics.Drop(gate).Inc()
	d.emit(bus.EventMessageDropped, msg.ID, map[string]any{"gate": gate, "user": msg.UserID()})
}

func (d *Dispatcher) chunking() bool { return d.interaction.Features.MessageChunking }

// addressed reports whether a group message is meant for the bot: it
// @-mentions the bot, or it replies to one of the bot's messages.
func (d *Dispatcher) addressed(msg domain.InboundMessage) bool {
	if !d.replyInGroups {
		return false
	}
	if msg.QuotedFromBot {
		return true
	}
	bot := d.media.BotID()
	return bot != "" && msg.Recipient == bot && slices.Contains(msg.Mentions, bot)
}

// Handle runs one inbound message through the gates. It never returns an
// error: failures past the admission gates are answered with an apology.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesReceived.Inc()
	userID := msg.UserID()
	d.emit(bus.EventMessageReceived, msg.ID, map[string]any{"user": userID, "kind": string(msg.Kind), "group": msg.IsGroup})

	if msg.IsGroup && !d.addressed(msg) {
		if body := strings.TrimSpace(msg.Body); body != "" {
			if err := d.conversations.RecordUserMessage(ctx, userID, body); err != nil {
				d.logger.Warn("group context save failed", "group", msg.Sender, "user", userID, "err", err)
			}
		}
		d.drop(msg, "group")
		return
	}

	if !d.state.AcquireText(userID) {
		d.logger.Info("message already in flight, dropped", "user", userID, "id", msg.ID)
		d.drop(msg, "inflight")
		return
	}
	defer d.state.ReleaseText(userID)

	if d.admins.IsBlacklisted(ctx, userID) {
		d.drop(msg, "blacklist")
		return
	}

	if msg.Kind == domain.KindVoice && d.voiceEnabled() {
		if !d.state.AcquireVoice(userID) {
			d.logger.Info("voice message already in flight, dropped", "user", userID)
			d.drop(msg, "voice_inflight")
			return
		}
		d.wg.Add(1)
		go d.processVoice(context.WithoutCancel(ctx), msg)
		return
	}

	start := time.Now()
	metrics.ActiveDispatches.Inc()
	defer func() {
		metrics.ActiveDispatches.Dec()
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}()

	isAdmin := d.admins.IsAdmin(ctx, userID)
	debugOn := d.admins.IsDebug(userID)
	if debugOn {
		d.logger.Info("debug dispatch", "user", userID, "id", msg.ID, "kind", msg.Kind, "admin", isAdmin, "mode", d.admins.Mode(), "body", msg.Body)
	}

	if msg.Kind == domain.KindDocument {
		d.handleDocument(ctx, msg, isAdmin)
		return
	}

	if strings.TrimSpace(msg.Body) == "" {
		d.drop(msg, "empty")
		return
	}

	lane, err := d.respond(ctx, msg, isAdmin)
	if err != nil {
		d.fail(ctx, msg, err)
		return
	}
	if debugOn {
		d.logger.Info("debug dispatch done", "user", userID, "lane", lane, "elapsed", time.Since(start))
	}
}

// respond runs the gates after admission. A panic is turned into an error.
func (d *Dispatcher) respond(ctx context.Context, msg domain.InboundMessage, isAdmin bool) (lane string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic", "user", msg.UserID(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	userID, to := msg.UserID(), msg.ReplyTo()
	body := strings.TrimSpace(msg.Body)

	if d.admins.Mode() == domain.ModeMaintenance && !isAdmin {
		text := MaintenanceNotice
		if custom, ok := d.admins.Setting(admin.KeyMaintenance); ok && custom != "" {
			text = custom
		}
		d.drop(msg, "maintenance")
		return "maintenance", d.notice(ctx, to, text)
	}

	if !isAdmin && !d.admins.CheckUserLimit(ctx, userID) {
		d.drop(msg, "limit")
		return "limit", d.notice(ctx, to, LimitNotice)
	}

	if d.interaction.Features.HumanSimulation {
		if err := d.delivery.Simulate(ctx, to, d.currentTypingDelay()); err != nil {
			return "", err
		}
	}

	cc, err := d.conversations.LoadContext(ctx, userID)
	if err != nil {
		return "", err
	}

	if cmd := ParseCommand(body); cmd != nil {
		if h, ok := d.commands.Lookup(cmd.Name); ok {
			reply := h(ctx, CommandRequest{Command: cmd, UserID: userID, ReplyTo: to, Context: cc, IsAdmin: isAdmin})
			d.emit(bus.EventCommandExecuted, msg.ID, map[string]any{"user": userID, "command": cmd.Name})
			if cmd.Name == "admin" && isAdmin {
				d.emit(bus.EventAdminAction, msg.ID, map[string]any{"admin": admin.Phone(userID), "action": cmd.arg(0)})
			}
			if err := d.deliver(ctx, to, reply, isAdmin); err != nil {
				return "", err
			}
			if !isAdmin {
				d.admins.IncrementUsage(ctx, userID)
			}
			return d.replied(msg, "command"), nil
		}
		d.logger.Debug("unknown command, falling through", "command", cmd.Name, "user", userID)
	}

	if d.admins.Mode() == domain.ModeReadonly {
		d.drop(msg, "readonly")
		return "readonly", d.notice(ctx, to, ReadonlyNotice)
	}

	if d.shortcuts != nil {
		if intent, ok := d.shortcuts.Detect(ctx, userID, body); ok {
			if err := d.deliver(ctx, to, intent.Reply, isAdmin); err != nil {
				return "", err
			}
			if err := d.conversations.SaveExchange(ctx, cc.ConversationID, body, intent.Reply); err != nil {
				d.logger.Warn("shortcut exchange not saved", "user", userID, "err", err)
			}
			d.admins.IncrementUsage(ctx, userID)
			return d.replied(msg, "shortcut"), nil
		}
	}

	reply, err := d.conversations.ProcessMessageWithMemory(ctx, userID, body)
	if err != nil {
		d.emit(bus.EventProviderError, msg.ID, map[string]any{"user": userID, "error": err.Error()})
		return "", err
	}
	if err := d.deliver(ctx, to, reply, isAdmin); err != nil {
		return "", err
	}
	d.admins.IncrementUsage(ctx, userID)
	return d.replied(msg, "llm"), nil
}

func (d *Dispatcher) replied(msg domain.InboundMessage, lane string) string {
	metrics.Lane(lane).Inc()
	d.emit(bus.EventReplySent, msg.ID, map[string]any{"user": msg.UserID(), "lane": lane})
	return lane
}

// currentTypingDelay reads the typing_delay setting (milliseconds) and
// falls back to the configured delay.
func (d *Dispatcher) currentTypingDelay() time.Duration {
	if v, ok := d.admins.Setting(admin.KeyTypingDelay); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return d.typingDelay
}

// deliver sends a reply: one message for admins or when chunking is off,
// conversational chunks otherwise.
func (d *Dispatcher) deliver(ctx context.Context, to, text string, isAdmin bool) error {
	if isAdmin || !d.chunking() {
		return d.delivery.SendSingle(ctx, to, text)
	}
	return d.delivery.SendChunked(ctx, to, text, delivery.Conversational)
}

// notice sends a gate notice, chunked when chunking is on.
func (d *Dispatcher) notice(ctx context.Context, to, text string) error {
	if d.chunking() {
		return d.delivery.SendChunked(ctx, to, text, delivery.Conversational)
	}
	return d.delivery.SendSingle(ctx, to, text)
}

// fail answers a failed dispatch with the apology. A failed apology is only
// logged.
func (d *Dispatcher) fail(ctx context.Context, msg domain.InboundMessage, cause error) {
	metrics.DispatchErrors.Inc()
	d.logger.Error("dispatch failed", "user", msg.UserID(), "id", msg.ID, "kind", msg.Kind, "err", cause)
	d.emit(bus.EventDispatchFailed, msg.ID, map[string]any{"user": msg.UserID(), "error": cause.Error()})

	text := ApologyNotice
	if custom, ok := d.admins.Setting(admin.KeyError); ok && custom != "" {
		text = custom
	}
	to := msg.ReplyTo()
	var err error
	if d.chunking() {
		err = d.delivery.SendChunked(ctx, to, text, delivery.Plain)
	} else {
		err = d.delivery.SendSingle(ctx, to, text)
	}
	if err != nil {
		d.logger.Error("apology not delivered", "user", msg.UserID(), "err", err)
	}
}

func (d *Dispatcher) voiceEnabled() bool {
	return d.transcriber != nil && d.interaction.Voice.Enabled && d.interaction.Features.VoiceMessages
}

// processVoice transcribes a voice note and answers the transcript. It runs
// detached from Handle and owns the voice lock.
func (d *Dispatcher) processVoice(ctx context.Context, msg domain.InboundMessage) {
	userID, to := msg.UserID(), msg.ReplyTo()
	defer d.wg.Done()
	defer d.state.ReleaseVoice(userID)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("voice dispatch panic", "user", userID, "panic", r)
		}
	}()

	voice := d.interaction.Voice
	if msg.Media == nil {
		d.logger.Warn("voice message without media", "user", userID)
		return
	}
	media, err := d.media.Download(ctx, msg.Media)
	if err != nil {
		d.voiceFailed(ctx, msg, fmt.Errorf("download: %w", err))
		return
	}
	if voice.MaxFileSizeMB > 0 && len(media.Data) > voice.MaxFileSizeMB<<20 {
		d.logger.Warn("voice message too large", "user", userID, "bytes", len(media.Data), "max_mb", voice.MaxFileSizeMB)
		d.drop(msg, "voice_size")
		return
	}

	timeout := defaultTranscribeTimeout
	if voice.TranscriptionTimeout > 0 {
		timeout = time.Duration(voice.TranscriptionTimeout) * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	name := media.FileName
	if name == "" {
		name = msg.Media.FileName
	}
	transcript, err := d.transcriber.Transcribe(tctx, bytes.NewReader(media.Data), name)
	cancel()
	if err == nil && strings.TrimSpace(transcript) == "" {
		err = errors.New("empty transcript")
	}
	if err != nil {
		d.voiceFailed(ctx, msg, fmt.Errorf("transcribe: %w", err))
		return
	}
	metrics.Transcriptions.Inc()
	d.emit(bus.EventVoiceTranscribed, msg.ID, map[string]any{"user": userID, "chars": len(transcript)})
	d.logger.Info("voice transcribed", "user", userID, "chars", len(transcript))

	reply, err := d.conversations.ProcessMessageWithMemory(ctx, userID, transcript)
	if err != nil {
		d.emit(bus.EventProviderError, msg.ID, map[string]any{"user": userID, "error": err.Error()})
		d.voiceFailed(ctx, msg, err)
		return
	}
	isAdmin := d.admins.IsAdmin(ctx, userID)
	if err := d.deliver(ctx, to, reply, isAdmin); err != nil {
		d.logger.Error("voice reply not delivered", "user", userID, "err", err)
		return
	}
	if !isAdmin {
		d.admins.IncrementUsage(ctx, userID)
	}
	d.replied(msg, "voice")
}

func (d *Dispatcher) voiceFailed(ctx context.Context, msg domain.InboundMessage, err error) {
	d.logger.Error("voice processing failed", "user", msg.UserID(), "err", err)
	metrics.DispatchErrors.Inc()
	d.emit(bus.EventDispatchFailed, msg.ID, map[string]any{"user": msg.UserID(), "error": err.Error(), "kind": "voice"})
	if d.interaction.Voice.SilentErrors || d.interaction.Voice.ErrorFallback == "" {
		return
	}
	if err := d.delivery.SendSingle(ctx, msg.ReplyTo(), d.interaction.Voice.ErrorFallback); err != nil {
		d.logger.Error("voice fallback not delivered", "user", msg.UserID(), "err", err)
	}
}

// handleDocument acknowledges, stores and indexes an attachment. Documents
// never reach commands or the LLM.
func (d *Dispatcher) handleDocument(ctx context.Context, msg domain.InboundMessage, isAdmin bool) {
	userID, to := msg.UserID(), msg.ReplyTo()
	if err := d.delivery.SendSingle(ctx, to, DocumentAck); err != nil {
		d.logger.Warn("document ack not delivered", "user", userID, "err", err)
	}

	text, err := d.storeDocument(ctx, msg)
	switch {
	case errors.Is(err, domain.ErrDocumentLimit):
		text = fmt.Sprintf("⚠️ Vous avez atteint la limite de %d documents. Supprimez-en avec /doc delete [id]", d.documents.MaxPerUser())
	case err != nil:
		d.logger.Error("document processing failed", "user", userID, "err", err)
		metrics.DispatchErrors.Inc()
		text = DocumentFailed
	default:
		d.replied(msg, "document")
	}

	if isAdmin || !d.chunking() {
		err = d.delivery.SendSingle(ctx, to, text)
	} else {
		err = d.delivery.SendChunked(ctx, to, text, delivery.Conversational)
	}
	if err != nil {
		d.logger.Error("document reply not delivered", "user", userID, "err", err)
	}
}

func (d *Dispatcher) storeDocument(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if d.documents == nil {
		return "", errors.New("documents disabled")
	}
	if msg.Media == nil {
		return "", errors.New("document without media")
	}
	media, err := d.media.Download(ctx, msg.Media)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	name := media.FileName
	if name == "" {
		name = msg.Media.FileName
	}
	mime := media.MimeType
	if mime == "" {
		mime = msg.Media.MimeType
	}
	doc, err := d.documents.Upload(ctx, msg.UserID(), name, mime, media.Data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Document \"%s\" téléchargé avec succès!\n\n📊 Détails:\n• Taille: %.2f KB\n• Type: %s\n\nUtilisez /doc query [votre question] pour poser des questions sur ce document.",
		doc.Name, float64(doc.Size)/1024, doc.MimeType), nil
}
