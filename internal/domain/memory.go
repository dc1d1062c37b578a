package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDocumentLimit     = errors.New("document limit reached")
	ErrTooLarge          = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// ChatContext is the history loaded for one dispatch. It is reloaded for
// every inbound message.
type ChatContext struct {
	ConversationID string
	UserID         string
	History        []Turn
}

type Conversation struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

type MessageRecord struct {
	ID             int64     `json:"id" yaml:"id"`
	ConversationID string    `json:"conversation_id" yaml:"conversation_id"`
	Role           string    `json:"role" yaml:"role"`
	Content        string    `json:"content" yaml:"content"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// ConversationStore persists per-user conversation history.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, userID string) (*Conversation, error)
	AppendMessage(ctx context.Context, convID, role, content string) error
	// GetHistory returns the last limit messages, oldest first.
	GetHistory(ctx context.Context, convID string, limit int) ([]MessageRecord, error)
	DeleteConversation(ctx context.Context, convID string) error
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
}

// Record is a schemaless document stored in a named collection.
type Record struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// String returns a string field of the record, or "".
func (r Record) String(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

// Int returns a numeric field of the record as int64.
func (r Record) Int(key string) int64 {
	switch v := r.Data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns a boolean field of the record.
func (r Record) Bool(key string) bool {
	v, _ := r.Data[key].(bool)
	return v
}

// Time parses an RFC 3339 field of the record.
func (r Record) Time(key string) time.Time {
	t, _ := time.Parse(time.RFC3339, r.String(key))
	return t
}

// Filter is one condition of a Query.
type Filter struct {
	Field string
	Op    string // = | != | < | <= | > | >=
	Value any
}

// Query selects records of a collection.
type Query struct {
	Filters []Filter
	OrderBy string // data field, or "created_at"
	Desc    bool
	Limit   int
}

// Where returns a query with a single equality filter.
func Where(field string, value any) Query {
	return Query{Filters: []Filter{{Field: field, Op: "=", Value: value}}}
}

// And adds an equality filter to q.
func (q Query) And(field string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: "=", Value: value})
	return q
}

// DocumentStore is a generic key/document store for auxiliary collections
// (blacklist, limits, tickets, reminders, notes...).
type DocumentStore interface {
	ListRecords(ctx context.Context, collection string, q Query) ([]Record, error)
	GetRecord(ctx context.Context, collection, id string) (*Record, error)
	CreateRecord(ctx context.Context, collection string, data map[string]any) (*Record, error)
	UpdateRecord(ctx context.Context, collection, id string, data map[string]any) (*Record, error)
	DeleteRecord(ctx context.Context, collection, id string) error
}
