package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"jarvis/internal/domain"
)

// CLI implements domain.Transport for interactive terminal chat. Every line
// typed is one inbound text message from UserID; the typing presence is
// rendered as a spinner.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	userID string
	seq    atomic.Int64

	outMu     sync.Mutex
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	// UserID is the sender id of console messages; list it in admin.numbers
	// to try admin commands locally.
	UserID string
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		userID: cfg.UserID,
	}
}

func (c *CLI) Name() string  { return "cli" }
func (c *CLI) BotID() string { return "jarvis" }

// Connected is always true: the terminal is local.
func (c *CLI) Connected() bool { return true }

// Start runs the interactive REPL and blocks until the context is cancelled
// or the input ends.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		_ = c.Send(ctx, msg.To, msg.Content)
	})

	c.print("Jarvis (console). Tapez votre message puis Entrée. /quit pour sortir.\n")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.bus.Publish(domain.InboundMessage{
			ID:        "cli-" + strconv.FormatInt(c.seq.Add(1), 10),
			Channel:   c.Name(),
			Sender:    c.userID,
			Recipient: c.BotID(),
			Body:      line,
			Kind:      domain.KindText,
			Timestamp: time.Now(),
		})
	}
}

func (c *CLI) Stop() error {
	c.stopThinking()
	return nil
}

func (c *CLI) Send(ctx context.Context, to string, text string) error {
	c.stopThinking()
	c.print("Jarvis> " + text + "\n")
	return nil
}

func (c *CLI) SetTyping(ctx context.Context, to string) error {
	c.startThinking()
	return nil
}

func (c *CLI) ClearTyping(ctx context.Context, to string) error {
	c.stopThinking()
	return nil
}

func (c *CLI) Download(ctx context.Context, ref *domain.MediaRef) (*domain.Media, error) {
	return nil, errors.New("cli: attachments are not supported")
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.print("\r\033[K")
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Jarvis écrit...", frames[i%len(frames)]))
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
