package domain

import "context"

// Transport is a messaging network the assistant is reachable on.
// Inbound messages are published to the bus passed to Start.
type Transport interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error

	Send(ctx context.Context, to string, text string) error
	SetTyping(ctx context.Context, to string) error
	ClearTyping(ctx context.Context, to string) error
	Download(ctx context.Context, ref *MediaRef) (*Media, error)

	// BotID is the transport identity of the assistant itself.
	BotID() string
}
