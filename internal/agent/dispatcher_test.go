package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis/internal/admin"
	"jarvis/internal/bus"
	"jarvis/internal/config"
	"jarvis/internal/delivery"
	"jarvis/internal/domain"
	"jarvis/internal/knowledge"
	"jarvis/internal/memory"
	"jarvis/internal/nlp"
	"jarvis/internal/scheduler"
	"jarvis/internal/support"
)

const (
	botJID   = "2250700000000@s.whatsapp.net"
	userJID  = "2250711111111@s.whatsapp.net"
	adminJID = "2250799999999@s.whatsapp.net"
	groupJID = "120363000000000000@g.us"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeTransport records sends and serves downloads.
type fakeTransport struct {
	mu    sync.Mutex
	sends []sent
	media *domain.Media
}

type sent struct{ to, text string }

func (f *fakeTransport) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sent{to, text})
	return nil
}

func (f *fakeTransport) SetTyping(context.Context, string) error   { return nil }
func (f *fakeTransport) ClearTyping(context.Context, string) error { return nil }
func (f *fakeTransport) BotID() string                            { return botJID }

func (f *fakeTransport) Download(context.Context, *domain.MediaRef) (*domain.Media, error) {
	if f.media == nil {
		return nil, errors.New("no media")
	}
	return f.media, nil
}

func (f *fakeTransport) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sends...)
}

type fakeProvider struct {
	calls atomic.Int32
	last  atomic.Value // string: last user message
	err   error
	hold  chan struct{} // when set, "hang" blocks until closed
	reply string        // overrides the canned answer when set
}

func (p *fakeProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls.Add(1)
	msg := req.Messages[len(req.Messages)-1].Content
	p.last.Store(msg)
	if p.hold != nil && msg == "hang" {
		<-p.hold
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.reply != "" {
		return &domain.ChatResponse{Content: p.reply}, nil
	}
	return &domain.ChatResponse{Content: "Bonjour! Comment puis-je vous aider?"}, nil
}

func (p *fakeProvider) Name() string                  { return "fake" }
func (p *fakeProvider) Models() []string              { return []string{"fake-1"} }
func (p *fakeProvider) Healthy(context.Context) error { return nil }

// blockingTranscriber holds every call until release is closed.
type blockingTranscriber struct {
	release chan struct{}
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, audio io.Reader, _ string) (string, error) {
	<-b.release
	data, _ := io.ReadAll(audio)
	return "transcrit: " + string(data), nil
}

type harness struct {
	d         *Dispatcher
	transport *fakeTransport
	provider  *fakeProvider
	admins    *admin.Service
	store     *memory.SQLiteStore
	events    *bus.EventBus
}

type harnessOpts struct {
	chunking      bool
	replyInGroups bool
	dailyLimit    int
	transcriber   domain.Transcriber
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	logger := testLogger()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "jarvis.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	admins := admin.NewService(admin.Config{Store: store, Admins: []string{adminJID}, DefaultDailyLimit: o.dailyLimit, Logger: logger})
	require.NoError(t, admins.Init(ctx))

	transport := &fakeTransport{}
	provider := &fakeProvider{}
	noSleep := func(context.Context, time.Duration) error { return nil }
	ch := delivery.New(delivery.Config{Sender: transport, Sleep: noSleep, Logger: logger})
	convs := memory.NewConversations(memory.ConversationsConfig{Store: store, Provider: provider, Model: "fake-1", Logger: logger})
	events := bus.NewEventBus(logger)
	docs := knowledge.NewEngine(knowledge.EngineConfig{Store: store, Logger: logger})

	interaction := config.Defaults().Interaction
	interaction.Features.MessageChunking = o.chunking
	interaction.Features.HumanSimulation = false
	interaction.Features.VoiceMessages = true
	interaction.Voice.Enabled = true

	cmds := NewCommandRouter(CommandRouterConfig{
		Conversations: convs,
		Admin:         admins,
		Scheduler:     scheduler.New(scheduler.Config{Store: store, Bus: bus.New(8, logger), Channel: "whatsapp", Logger: logger}),
		Support:       support.New(support.Config{Store: store, Logger: logger}),
		Delivery:      ch,
		Documents:     docs,
		Business:      config.Defaults().Business,
		Model:         "fake-1",
		Logger:        logger,
	})
	d := NewDispatcher(DispatcherConfig{
		Transport:     transport,
		Delivery:      ch,
		Conversations: convs,
		Shortcuts:     nlp.New(nlp.Config{Store: store, Logger: logger}),
		Commands:      cmds,
		Admin:         admins,
		Documents:     docs,
		Transcriber:   o.transcriber,
		Events:        events,
		Interaction:   interaction,
		ReplyInGroups: o.replyInGroups,
		Logger:        logger,
	})
	return &harness{d: d, transport: transport, provider: provider, admins: admins, store: store, events: events}
}

func text(from, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID: "m-" + body, Channel: "whatsapp", Sender: from, Recipient: botJID,
		Body: body, Kind: domain.KindText, Timestamp: time.Now(),
	}
}

func TestHandle_HappyPath(t *testing.T) {
	h := newHarness(t, harnessOpts{dailyLimit: 10})
	ctx := context.Background()

	h.d.Handle(ctx, text(userJID, "Bonjour"))

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, userJID, sends[0].to)
	assert.Equal(t, "Bonjour! Comment puis-je vous aider?", sends[0].text)
	assert.EqualValues(t, 1, h.provider.calls.Load())
	assert.Equal(t, "Bonjour", h.provider.last.Load())

	limits, err := h.admins.Limits(ctx)
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, 1, limits[0].Used, "usage incremented once")

	convs := memory.NewConversations(memory.ConversationsConfig{Store: h.store, Provider: h.provider})
	cc, err := convs.LoadContext(ctx, userJID)
	require.NoError(t, err)
	assert.Len(t, cc.History, 2, "both turns persisted")
}

func TestHandle_InFlightShortCircuits(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.True(t, h.d.State().AcquireText(userJID))

	h.d.Handle(context.Background(), text(userJID, "Bonjour"))

	assert.Empty(t, h.transport.all())
	assert.Zero(t, h.provider.calls.Load())
	users, err := h.admins.Users(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, users, "no conversation should be touched")
}

func TestHandle_ReleasesLock(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	busy, _ := h.d.State().InFlight(userJID)
	assert.False(t, busy)

	h.provider.err = errors.New("provider down")
	h.d.Handle(ctx, text(userJID, "Encore"))
	busy, _ = h.d.State().InFlight(userJID)
	assert.False(t, busy, "lock released after a failure too")

	sends := h.transport.all()
	require.Len(t, sends, 2)
	assert.Equal(t, ApologyNotice, sends[1].text)
}

func TestHandle_Maintenance(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.admins.SetMode(ctx, domain.ModeMaintenance, adminJID))

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, MaintenanceNotice, sends[0].text)
	assert.Zero(t, h.provider.calls.Load())

	h.d.Handle(ctx, text(adminJID, "Bonjour"))
	assert.EqualValues(t, 1, h.provider.calls.Load(), "admins bypass maintenance")
}

func TestHandle_MaintenanceMessageSetting(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.admins.SetMode(ctx, domain.ModeMaintenance, adminJID))
	require.NoError(t, h.admins.SetSetting(ctx, admin.KeyMaintenance, "Retour à 14h", adminJID))

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "Retour à 14h", sends[0].text)
}

func TestHandle_DailyLimit(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.admins.SetLimit(ctx, userJID, 1, adminJID))

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	h.d.Handle(ctx, text(userJID, "Encore"))

	sends := h.transport.all()
	require.Len(t, sends, 2)
	assert.Equal(t, LimitNotice, sends[1].text)
	assert.EqualValues(t, 1, h.provider.calls.Load())
}

func TestHandle_Blacklisted(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.admins.Block(ctx, userJID, "spam", adminJID))

	var dropped []string
	h.events.On(bus.EventMessageDropped, func(e bus.Event) { dropped = append(dropped, e.Payload["gate"].(string)) })

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	assert.Empty(t, h.transport.all())
	assert.Equal(t, []string{"blacklist"}, dropped)
}

func TestHandle_CalculationShortcut(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.d.Handle(context.Background(), text(userJID, "12 + 8"))

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "🧮 20", sends[0].text)
	assert.Zero(t, h.provider.calls.Load())
}

func TestHandle_Command(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.d.Handle(context.Background(), text(userJID, "/help"))

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Contains(t, sends[0].text, "Commandes disponibles")
	assert.Zero(t, h.provider.calls.Load())
}

func TestHandle_UnknownCommandFallsThrough(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.d.Handle(context.Background(), text(userJID, "/bonjour"))
	assert.EqualValues(t, 1, h.provider.calls.Load())
}

func TestHandle_Readonly(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	require.NoError(t, h.admins.SetMode(ctx, domain.ModeReadonly, adminJID))

	h.d.Handle(ctx, text(userJID, "Bonjour"))
	h.d.Handle(ctx, text(userJID, "/help"))

	sends := h.transport.all()
	require.Len(t, sends, 2)
	assert.Equal(t, ReadonlyNotice, sends[0].text)
	assert.Contains(t, sends[1].text, "Commandes disponibles", "commands still answer in readonly")
	assert.Zero(t, h.provider.calls.Load())
}

func TestHandle_GroupWithoutMention(t *testing.T) {
	h := newHarness(t, harnessOpts{replyInGroups: true})
	ctx := context.Background()
	msg := text(groupJID, "on se voit demain ?")
	msg.IsGroup = true
	msg.Author = userJID

	h.d.Handle(ctx, msg)

	assert.Empty(t, h.transport.all())
	assert.Zero(t, h.provider.calls.Load())
	users, err := h.admins.Users(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 1, "group chatter kept for context")
	assert.Equal(t, userJID, users[0].UserID)
}

func TestHandle_GroupMention(t *testing.T) {
	h := newHarness(t, harnessOpts{replyInGroups: true})
	msg := text(groupJID, "@jarvis Bonjour")
	msg.IsGroup = true
	msg.Author = userJID
	msg.Mentions = []string{botJID}

	h.d.Handle(context.Background(), msg)

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, groupJID, sends[0].to, "group replies go to the group")
}

func TestHandle_GroupMentionOfSomeoneElse(t *testing.T) {
	h := newHarness(t, harnessOpts{replyInGroups: true})
	msg := text(groupJID, "@Alice tu viens ce soir?")
	msg.IsGroup = true
	msg.Author = userJID
	msg.Mentions = []string{"2250722222222@s.whatsapp.net"}

	h.d.Handle(context.Background(), msg)

	assert.Empty(t, h.transport.all())
	assert.Zero(t, h.provider.calls.Load())
}

func TestHandle_GroupRepliesDisabled(t *testing.T) {
	h := newHarness(t, harnessOpts{replyInGroups: false})
	msg := text(groupJID, "@jarvis Bonjour")
	msg.IsGroup = true
	msg.Author = userJID
	msg.Mentions = []string{botJID}

	h.d.Handle(context.Background(), msg)
	assert.Empty(t, h.transport.all())
}

func TestHandle_VoiceReturnsPromptly(t *testing.T) {
	tr := &blockingTranscriber{release: make(chan struct{})}
	h := newHarness(t, harnessOpts{transcriber: tr})
	h.transport.media = &domain.Media{MimeType: "audio/ogg", FileName: "voice.ogg", Data: []byte("rendez-vous")}

	msg := text(userJID, "")
	msg.Kind = domain.KindVoice
	msg.Media = &domain.MediaRef{MimeType: "audio/ogg", FileName: "voice.ogg"}
	msg.HasMedia = true

	done := make(chan struct{})
	go func() {
		h.d.Handle(context.Background(), msg)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on transcription")
	}

	textBusy, voiceBusy := h.d.State().InFlight(userJID)
	assert.False(t, textBusy)
	assert.True(t, voiceBusy, "voice lock held during transcription")

	// A second note while the first is in flight is dropped.
	h.d.Handle(context.Background(), msg)

	close(tr.release)
	h.d.Wait()

	_, voiceBusy = h.d.State().InFlight(userJID)
	assert.False(t, voiceBusy)
	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "transcrit: rendez-vous", h.provider.last.Load())
}

func TestHandle_Document(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.transport.media = &domain.Media{MimeType: "text/plain", FileName: "notes.txt", Data: []byte("Le devis final est de 450 000 CFA.")}

	msg := text(userJID, "")
	msg.Kind = domain.KindDocument
	msg.Media = &domain.MediaRef{MimeType: "text/plain", FileName: "notes.txt"}
	msg.HasMedia = true

	h.d.Handle(context.Background(), msg)

	sends := h.transport.all()
	require.Len(t, sends, 2)
	assert.Equal(t, DocumentAck, sends[0].text)
	assert.True(t, strings.HasPrefix(sends[1].text, `✅ Document "notes.txt" téléchargé avec succès!`), sends[1].text)
	assert.Zero(t, h.provider.calls.Load())
}

func TestHandle_DocumentDownloadFails(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	msg := text(userJID, "")
	msg.Kind = domain.KindDocument
	msg.Media = &domain.MediaRef{MimeType: "application/pdf", FileName: "x.pdf"}

	h.d.Handle(context.Background(), msg)

	sends := h.transport.all()
	require.Len(t, sends, 2)
	assert.Equal(t, DocumentFailed, sends[1].text)
}

func TestHandle_ChunkedApologyUsesErrorSetting(t *testing.T) {
	h := newHarness(t, harnessOpts{chunking: true})
	ctx := context.Background()
	require.NoError(t, h.admins.SetSetting(ctx, admin.KeyError, "Oups, réessayez.", adminJID))
	h.provider.err = errors.New("timeout")

	h.d.Handle(ctx, text(userJID, "Bonjour"))

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "Oups, réessayez.", sends[0].text)
}

func TestHandle_BlankReplyIsAnsweredWithApology(t *testing.T) {
	h := newHarness(t, harnessOpts{chunking: true})
	h.provider.reply = "\n\n\n\n\n"

	h.d.Handle(context.Background(), text(userJID, "Bonjour"))

	sends := h.transport.all()
	require.Len(t, sends, 1, "no empty message reaches the transport")
	assert.Equal(t, ApologyNotice, sends[0].text)
}

func TestGateway_Run(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	b := bus.New(8, testLogger())
	g := NewGateway(GatewayConfig{Bus: b, Dispatcher: h.d, BusyThreshold: 2, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	b.Publish(text(userJID, "12 + 8"))
	b.Publish(text(adminJID, "20 - 5"))
	require.Eventually(t, func() bool { return len(h.transport.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestGateway_SlowUsersDoNotBlockOthers(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.provider.hold = make(chan struct{})
	b := bus.New(8, testLogger())
	g := NewGateway(GatewayConfig{Bus: b, Dispatcher: h.d, BusyThreshold: 2, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	const other = "2250733333333@s.whatsapp.net"
	b.Publish(text(userJID, "hang"))
	b.Publish(text(adminJID, "hang"))
	require.Eventually(t, func() bool { return h.provider.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	b.Publish(text(other, "Bonjour"))
	require.Eventually(t, func() bool { return len(h.transport.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, other, h.transport.all()[0].to)

	dup := text(userJID, "hang")
	dup.ID = "m-hang-again"
	b.Publish(dup)
	require.Eventually(t, func() bool {
		for _, e := range h.events.Replay(bus.EventMessageDropped, time.Time{}) {
			if e.CorrelationID == dup.ID && e.Payload["gate"] == "inflight" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "duplicate dropped, not queued")

	close(h.provider.hold)
	require.Eventually(t, func() bool { return len(h.transport.all()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 3, h.provider.calls.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.Zero(t, g.Active())
}
