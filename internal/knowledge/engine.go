// Package knowledge stores the documents users send and answers questions
// from their text.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"jarvis/internal/domain"

	"github.com/google/uuid"
)

// Engine manages per-user documents: ingestion, chunking and search.
type Engine struct {
	store      domain.KnowledgeStore
	provider   domain.Provider
	model      string
	chunkSize  int
	maxSize    int64
	maxPerUser int
	topK       int
	logger     *slog.Logger
}

type EngineConfig struct {
	Store domain.KnowledgeStore
	// Provider answers questions from the retrieved chunks. Without it,
	// Query returns the chunks themselves.
	Provider   domain.Provider
	Model      string
	ChunkSize  int   // characters per chunk (default: 1000)
	MaxSize    int64 // bytes (default: 10 MB)
	MaxPerUser int   // documents per user (default: 10)
	TopK       int   // chunks kept per document (default: 3)
	Logger     *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		store:      cfg.Store,
		provider:   cfg.Provider,
		model:      cfg.Model,
		chunkSize:  cfg.ChunkSize,
		maxSize:    cfg.MaxSize,
		maxPerUser: cfg.MaxPerUser,
		topK:       cfg.TopK,
		logger:     cfg.Logger,
	}
}

// MaxPerUser is the number of documents a user may keep.
func (e *Engine) MaxPerUser() int { return e.maxPerUser }

// Upload parses, chunks and stores a document sent by userID.
func (e *Engine) Upload(ctx context.Context, userID, name, mimeType string, data []byte) (*domain.UserDocument, error) {
	if int64(len(data)) > e.maxSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", name, len(data), domain.ErrTooLarge)
	}
	existing, err := e.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if len(existing) >= e.maxPerUser {
		return nil, fmt.Errorf("%d documents stored: %w", len(existing), domain.ErrDocumentLimit)
	}

	text, err := Parse(mimeType, name, data)
	if err != nil {
		return nil, err
	}
	chunks := ChunkText(text, e.chunkSize)

	doc := domain.UserDocument{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		Summary:    preview(text, 300),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now(),
	}
	if err := e.store.AddDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	e.logger.Info("document stored",
		"user", userID, "name", name, "chunks", len(chunks), "size", len(data))
	return &doc, nil
}

func (e *Engine) List(ctx context.Context, userID string) ([]domain.UserDocument, error) {
	return e.store.ListDocuments(ctx, userID)
}

// Get returns a document owned by userID.
func (e *Engine) Get(ctx context.Context, userID, id string) (*domain.UserDocument, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// Delete removes a document owned by userID.
func (e *Engine) Delete(ctx context.Context, userID, id string) error {
	if _, err := e.Get(ctx, userID, id); err != nil {
		return err
	}
	return e.store.DeleteDocument(ctx, id)
}

// Match is the set of chunks of one document relevant to a query.
type Match struct {
	Document domain.UserDocument
	Chunks   []string
}

func keywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?!.,;:'\"()")
		if utf8.RuneCountInString(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

// Search returns, per document, the first TopK chunks that contain one of
// the query's keywords (words longer than two letters).
func (e *Engine) Search(ctx context.Context, userID, query string) ([]Match, error) {
	kws := keywords(query)
	if len(kws) == 0 {
		return nil, nil
	}
	docs, err := e.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, doc := range docs {
		chunks, err := e.store.DocumentChunks(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("load chunks of %s: %w", doc.ID, err)
		}
		var hits []string
		for _, c := range chunks {
			lower := strings.ToLower(c.Content)
			for _, kw := range kws {
				if strings.Contains(lower, kw) {
					hits = append(hits, c.Content)
					break
				}
			}
			if len(hits) == e.topK {
				break
			}
		}
		if len(hits) > 0 {
			matches = append(matches, Match{Document: doc, Chunks: hits})
		}
	}
	return matches, nil
}

// BuildContext renders matches as the excerpt block shown to users and
// given to the LLM.
func BuildContext(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("📄 *%s:*\n%s", m.Document.Name, strings.Join(m.Chunks, "\n\n")))
	}
	return "D'après vos documents:\n\n" + strings.Join(parts, "\n\n---\n\n")
}

const qaPrompt = "Tu es Jarvis, l'assistant de Nourx. Réponds à la question en te basant UNIQUEMENT sur les extraits de documents fournis. Réponds en français de manière claire et concise. Si les extraits ne contiennent pas la réponse, dis-le."

// ErrNoMatch is returned by Query when no document mentions the question's
// keywords.
var ErrNoMatch = errors.New("no relevant document")

// Query answers question from the user's documents.
func (e *Engine) Query(ctx context.Context, userID, question string) (string, error) {
	matches, err := e.Search(ctx, userID, question)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoMatch
	}
	excerpts := BuildContext(matches)
	if e.provider == nil {
		return excerpts, nil
	}

	resp, err := e.provider.Chat(ctx, domain.ChatRequest{
		Model: e.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: qaPrompt},
			{Role: domain.RoleUser, Content: excerpts + "\n\nQuestion: " + question},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		e.logger.Warn("document answer failed, returning excerpts", "user", userID, "err", err)
		return excerpts, nil
	}
	return resp.Content, nil
}

// Summary lists every document with the start of its text.
func (e *Engine) Summary(ctx context.Context, userID string) (string, error) {
	docs, err := e.store.ListDocuments(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", domain.ErrNotFound
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📚 *Résumé de vos documents* (%d)\n━━━━━━━━━━━━━━\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "\n📄 *%s*\n   %s\n", d.Name, preview(d.Summary, 200))
	}
	return b.String(), nil
}

func preview(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + "..."
}
