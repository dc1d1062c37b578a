package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"jarvis/internal/config"
	"jarvis/internal/domain"
)

// WhatsApp implements domain.Transport on a linked WhatsApp device
// (multi-device protocol through whatsmeow).
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	client *whatsmeow.Client
	bus    domain.MessageBus
	qrOut  io.Writer
	logger *slog.Logger
}

type WhatsAppChannelConfig struct {
	Config config.WhatsAppConfig
	// QROut receives the pairing QR code; defaults to stdout.
	QROut  io.Writer
	Logger *slog.Logger
}

// NewWhatsApp opens the device store and prepares the client. It does not
// connect; see Login and Start.
func NewWhatsApp(ctx context.Context, cfg WhatsAppChannelConfig) (*WhatsApp, error) {
	if cfg.QROut == nil {
		cfg.QROut = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dsn := "file:" + config.ExpandPath(cfg.Config.SessionDB) + "?_foreign_keys=on"
	container, err := sqlstore.New(ctx, "sqlite3", dsn, NewWALogger(cfg.Logger, "Database", "ERROR"))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}
	client := whatsmeow.NewClient(device, NewWALogger(cfg.Logger, "Client", cfg.Config.LogLevel))
	return &WhatsApp{
		cfg:    cfg.Config,
		client: client,
		qrOut:  cfg.QROut,
		logger: cfg.Logger,
	}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// LoggedIn reports whether the device store holds a paired session.
func (w *WhatsApp) LoggedIn() bool { return w.client.Store.ID != nil }

// Connected reports whether the websocket to WhatsApp is up.
func (w *WhatsApp) Connected() bool { return w.client.IsConnected() }

// Login connects, printing a pairing QR code first when no session exists.
// It returns once the client is connected and paired.
func (w *WhatsApp) Login(ctx context.Context) error {
	if w.LoggedIn() {
		if w.client.IsConnected() {
			return nil
		}
		return w.client.Connect()
	}

	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get qr channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Fprintln(w.qrOut, "Scannez ce QR code avec WhatsApp (Appareils connectés):")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, w.qrOut)
		case "success":
			w.logger.Info("whatsapp device paired", "jid", w.BotID())
			return nil
		default:
			if evt.Error != nil {
				return fmt.Errorf("pairing failed (%s): %w", evt.Event, evt.Error)
			}
			return fmt.Errorf("pairing failed: %s", evt.Event)
		}
	}
	return errors.New("pairing ended without success")
}

// Start registers the event and outbound handlers and connects.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	w.client.AddEventHandler(w.handleEvent)
	bus.OnOutbound(w.Name(), func(msg domain.OutboundMessage) {
		if err := w.Send(ctx, msg.To, msg.Content); err != nil {
			w.logger.Error("whatsapp outbound send failed", "to", msg.To, "err", err)
		}
	})
	if err := w.Login(ctx); err != nil {
		return err
	}
	w.logger.Info("whatsapp channel ready", "jid", w.BotID())
	return nil
}

func (w *WhatsApp) Stop() error {
	w.client.Disconnect()
	return nil
}

// BotID is the phone-number JID of the linked account, without device part.
func (w *WhatsApp) BotID() string {
	if w.client.Store.ID == nil {
		return ""
	}
	return w.client.Store.ID.ToNonAD().String()
}

func (w *WhatsApp) identity() botIdentity {
	var id botIdentity
	if w.client.Store.ID != nil {
		id.pn = w.client.Store.ID.ToNonAD()
	}
	id.lid = w.client.Store.LID.ToNonAD()
	return id
}

func (w *WhatsApp) Send(ctx context.Context, to string, text string) error {
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	if _, err := w.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)}); err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", jid, err)
	}
	return nil
}

func (w *WhatsApp) SetTyping(ctx context.Context, to string) error {
	return w.presence(ctx, to, types.ChatPresenceComposing)
}

func (w *WhatsApp) ClearTyping(ctx context.Context, to string) error {
	return w.presence(ctx, to, types.ChatPresencePaused)
}

func (w *WhatsApp) presence(ctx context.Context, to string, state types.ChatPresence) error {
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// Download fetches and decrypts the attachment of an inbound message.
func (w *WhatsApp) Download(ctx context.Context, ref *domain.MediaRef) (*domain.Media, error) {
	if ref == nil {
		return nil, errors.New("message has no attachment")
	}
	dm, ok := ref.Handle.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("unsupported media handle %T", ref.Handle)
	}
	data, err := w.client.Download(ctx, dm)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return &domain.Media{MimeType: ref.MimeType, FileName: ref.FileName, Data: data}, nil
}

func (w *WhatsApp) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		msg, ok := convertMessage(v.Info, v.Message, w.identity())
		if !ok {
			return
		}
		w.logger.Debug("whatsapp message received", "from", msg.Sender, "kind", msg.Kind, "group", msg.IsGroup)
		w.bus.Publish(msg)
	case *events.Connected:
		w.logger.Info("whatsapp connected")
	case *events.Disconnected:
		w.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		w.logger.Error("whatsapp session logged out, run `jarvis login` to pair again", "reason", v.Reason)
	}
}

// botIdentity holds both addressing forms of the linked account.
type botIdentity struct {
	pn  types.JID
	lid types.JID
}

func (b botIdentity) id() string {
	if b.pn.User == "" {
		return ""
	}
	return b.pn.String()
}

func (b botIdentity) is(raw string) bool {
	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" {
		return false
	}
	return (b.pn.User != "" && jid.User == b.pn.User) || (b.lid.User != "" && jid.User == b.lid.User)
}

// convertMessage maps a whatsmeow message onto an InboundMessage. Own
// messages and status broadcasts are skipped. Mentions of the bot are
// rewritten to its phone-number id so they compare equal to BotID.
func convertMessage(info types.MessageInfo, m *waE2E.Message, bot botIdentity) (domain.InboundMessage, bool) {
	if m == nil || info.IsFromMe || info.Chat.Server == types.BroadcastServer {
		return domain.InboundMessage{}, false
	}

	in := domain.InboundMessage{
		ID:        info.ID,
		Channel:   "whatsapp",
		Sender:    info.Chat.ToNonAD().String(),
		Recipient: bot.id(),
		PushName:  info.PushName,
		IsGroup:   info.IsGroup,
		Kind:      domain.KindText,
		Timestamp: info.Timestamp,
	}
	if info.IsGroup {
		in.Author = info.Sender.ToNonAD().String()
	}

	var ctxInfo *waE2E.ContextInfo
	switch {
	case m.GetConversation() != "":
		in.Body = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		in.Body = m.GetExtendedTextMessage().GetText()
		ctxInfo = m.GetExtendedTextMessage().GetContextInfo()
	case m.GetAudioMessage() != nil:
		a := m.GetAudioMessage()
		in.Kind = domain.KindVoice
		in.Media = &domain.MediaRef{MimeType: a.GetMimetype(), FileName: "voice" + audioExt(a.GetMimetype()), Size: int64(a.GetFileLength()), Handle: a}
		ctxInfo = a.GetContextInfo()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		in.Kind = domain.KindImage
		in.Body = img.GetCaption()
		in.Media = &domain.MediaRef{MimeType: img.GetMimetype(), Size: int64(img.GetFileLength()), Handle: img}
		ctxInfo = img.GetContextInfo()
	case m.GetVideoMessage() != nil:
		v := m.GetVideoMessage()
		in.Kind = domain.KindVideo
		in.Body = v.GetCaption()
		in.Media = &domain.MediaRef{MimeType: v.GetMimetype(), Size: int64(v.GetFileLength()), Handle: v}
		ctxInfo = v.GetContextInfo()
	case m.GetDocumentMessage() != nil:
		d := m.GetDocumentMessage()
		in.Kind = domain.KindDocument
		in.Body = d.GetCaption()
		in.Media = &domain.MediaRef{MimeType: d.GetMimetype(), FileName: d.GetFileName(), Size: int64(d.GetFileLength()), Handle: d}
		ctxInfo = d.GetContextInfo()
	default:
		in.Kind = domain.KindUnknown
	}
	in.HasMedia = in.Media != nil

	if ctxInfo != nil {
		for _, mentioned := range ctxInfo.GetMentionedJID() {
			if bot.is(mentioned) {
				mentioned = bot.id()
			}
			in.Mentions = append(in.Mentions, mentioned)
		}
		in.QuotedFromBot = ctxInfo.GetStanzaID() != "" && bot.is(ctxInfo.GetParticipant())
	}
	return in, true
}

func audioExt(mime string) string {
	switch {
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "aac"):
		return ".m4a"
	default:
		return ".ogg"
	}
}

// parseJID accepts a full JID or a bare phone number in any formatting.
func parseJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid jid %q: %w", to, err)
		}
		return jid, nil
	}
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, to)
	if digits == "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
