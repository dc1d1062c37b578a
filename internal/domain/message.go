package domain

import "time"

// MessageKind classifies an inbound message by its payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindVoice    MessageKind = "voice"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindUnknown  MessageKind = "unknown"
)

// MediaRef points at an attachment that can be fetched through the transport
// that produced the message. Handle is opaque to everything but that transport.
type MediaRef struct {
	MimeType string
	FileName string
	Size     int64
	Handle   any
}

// Media is a downloaded attachment.
type Media struct {
	MimeType string
	FileName string
	Data     []byte
}

// InboundMessage is one message received from a transport. It is never
// mutated after the transport builds it.
type InboundMessage struct {
	ID        string
	Channel   string
	Sender    string // chat the message arrived in (a group id for group messages)
	Recipient string // account the message was addressed to
	Author    string // participant who wrote a group message
	PushName  string
	Body      string
	Kind      MessageKind
	IsGroup   bool
	HasMedia  bool
	Media     *MediaRef
	// Mentions lists the ids @-mentioned in the body.
	Mentions      []string
	QuotedFromBot bool
	Timestamp     time.Time
}

// UserID is the identity gating, locking and history are keyed on: the
// author for group messages, the sender otherwise.
func (m InboundMessage) UserID() string {
	if m.IsGroup && m.Author != "" {
		return m.Author
	}
	return m.Sender
}

// ReplyTo is where answers to this message go.
func (m InboundMessage) ReplyTo() string {
	return m.Sender
}

// OutboundMessage is a message queued for delivery outside a dispatch,
// e.g. a reminder fired by the scheduler.
type OutboundMessage struct {
	Channel string
	To      string
	Content string
}
