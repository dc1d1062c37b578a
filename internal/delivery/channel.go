// Package delivery sends replies to a recipient, either in one piece or as
// a paced sequence of chunks with typing indicators in between.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"jarvis/internal/chunk"
	"jarvis/internal/metrics"
)

// ErrEmptyMessage is returned instead of sending a blank message.
var ErrEmptyMessage = errors.New("empty message")

// Sender is the part of a transport the channel needs.
type Sender interface {
	Send(ctx context.Context, to string, text string) error
	SetTyping(ctx context.Context, to string) error
	ClearTyping(ctx context.Context, to string) error
}

// Options tune one chunked delivery.
type Options struct {
	TypingBetweenChunks bool
	VariableDelay       bool
}

// Conversational is used for normal replies.
var Conversational = Options{TypingBetweenChunks: true, VariableDelay: true}

// Plain is used for error notices: no typing between chunks, fixed pauses.
var Plain = Options{}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Channel delivers text through a Sender.
type Channel struct {
	sender          Sender
	chunking        chunk.Options
	delays          chunk.Delays
	reading         bool
	typingIndicator bool
	sleep           SleepFunc
	rand            chunk.RandFunc
	logger          *slog.Logger
}

type Config struct {
	Sender   Sender
	Chunking chunk.Options
	Delays   chunk.Delays
	// Reading waits a reading delay before the first chunk.
	Reading bool
	// TypingIndicator shows the composing presence before each chunk.
	TypingIndicator bool
	Sleep           SleepFunc      // nil: real time
	Rand            chunk.RandFunc // nil: math/rand/v2
	Logger          *slog.Logger
}

func New(cfg Config) *Channel {
	if cfg.Sleep == nil {
		cfg.Sleep = Sleep
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		sender:          cfg.Sender,
		chunking:        cfg.Chunking,
		delays:          cfg.Delays,
		reading:         cfg.Reading,
		typingIndicator: cfg.TypingIndicator,
		sleep:           cfg.Sleep,
		rand:            cfg.Rand,
		logger:          cfg.Logger,
	}
}

// Sleep blocks for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendSingle sends text as one message.
func (c *Channel) SendSingle(ctx context.Context, to, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("send to %s: %w", to, ErrEmptyMessage)
	}
	if err := c.sender.Send(ctx, to, text); err != nil {
		metrics.SendFailures.Inc()
		return fmt.Errorf("send to %s: %w", to, err)
	}
	metrics.MessagesSent.Inc()
	return nil
}

// SendChunked splits text and sends the chunks in order, pacing them like a
// person typing. The first failed send aborts the rest.
func (c *Channel) SendChunked(ctx context.Context, to, text string, opts Options) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("send to %s: %w", to, ErrEmptyMessage)
	}
	chunks := chunk.Split(text, c.chunking)

	for _, ch := range chunks {
		if ch.Index == 0 && c.reading {
			if err := c.sleep(ctx, c.delays.Reading(text, c.rand)); err != nil {
				return err
			}
		}

		if opts.TypingBetweenChunks && c.typingIndicator {
			if err := c.Simulate(ctx, to, c.delays.Typing(ch.Text, c.rand)); err != nil {
				return err
			}
		}

		if err := c.SendSingle(ctx, to, ch.Text); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", ch.Index+1, len(chunks), err)
		}

		if !ch.IsLast {
			if err := c.sleep(ctx, c.delays.Between(ch, opts.VariableDelay, c.rand)); err != nil {
				return err
			}
		}
	}

	c.logger.Debug("chunked delivery done", "to", to, "chunks", len(chunks))
	return nil
}

// Simulate shows the typing indicator for d. Presence errors are logged and
// otherwise ignored; only cancellation is reported.
func (c *Channel) Simulate(ctx context.Context, to string, d time.Duration) error {
	if err := c.sender.SetTyping(ctx, to); err != nil {
		c.logger.Debug("set typing failed", "to", to, "err", err)
	}
	err := c.sleep(ctx, d)
	if cerr := c.sender.ClearTyping(ctx, to); cerr != nil {
		c.logger.Debug("clear typing failed", "to", to, "err", cerr)
	}
	return err
}
