package domain

import (
	"context"
	"time"
)

// UserDocument is a file a user sent for later questions.
type UserDocument struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Summary    string    `json:"summary"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type DocumentChunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Content    string `json:"content"`
}

// KnowledgeStore persists user documents and their text chunks.
type KnowledgeStore interface {
	AddDocument(ctx context.Context, doc UserDocument, chunks []string) error
	ListDocuments(ctx context.Context, userID string) ([]UserDocument, error)
	GetDocument(ctx context.Context, id string) (*UserDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	DocumentChunks(ctx context.Context, docID string) ([]DocumentChunk, error)
}
