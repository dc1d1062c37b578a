package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jarvis/internal/domain"
	"jarvis/internal/metrics"
)

// Conversations bridges per-user history and the LLM.
type Conversations struct {
	store        domain.ConversationStore
	provider     domain.Provider
	model        string
	systemPrompt string
	maxHistory   int
	maxTokens    int
	temperature  float64
	logger       *slog.Logger
}

type ConversationsConfig struct {
	Store        domain.ConversationStore
	Provider     domain.Provider
	Model        string
	SystemPrompt string
	MaxHistory   int // messages loaded per dispatch; default 20
	MaxTokens    int
	Temperature  float64
	Logger       *slog.Logger
}

func NewConversations(cfg ConversationsConfig) *Conversations {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Conversations{
		store:        cfg.Store,
		provider:     cfg.Provider,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxHistory:   cfg.MaxHistory,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		logger:       cfg.Logger,
	}
}

// MaxHistory is the number of messages kept in a loaded context.
func (c *Conversations) MaxHistory() int { return c.maxHistory }

// LoadContext loads the user's conversation and its most recent turns.
func (c *Conversations) LoadContext(ctx context.Context, userID string) (*domain.ChatContext, error) {
	conv, err := c.store.GetOrCreateConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation for %s: %w", userID, err)
	}
	msgs, err := c.store.GetHistory(ctx, conv.ID, c.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", userID, err)
	}

	history := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, domain.Turn{Role: m.Role, Content: m.Content})
	}
	c.logger.Debug("context loaded", "user", userID, "conversation", conv.ID, "messages", len(history))
	return &domain.ChatContext{ConversationID: conv.ID, UserID: userID, History: history}, nil
}

// SaveExchange appends a user turn and the reply to it.
func (c *Conversations) SaveExchange(ctx context.Context, convID, userText, reply string) error {
	if err := c.store.AppendMessage(ctx, convID, domain.RoleUser, userText); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	if err := c.store.AppendMessage(ctx, convID, domain.RoleAssistant, reply); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	return nil
}

// RecordUserMessage stores a message without answering it, e.g. group
// chatter kept for context.
func (c *Conversations) RecordUserMessage(ctx context.Context, userID, text string) error {
	conv, err := c.store.GetOrCreateConversation(ctx, userID)
	if err != nil {
		return fmt.Errorf("load conversation for %s: %w", userID, err)
	}
	return c.store.AppendMessage(ctx, conv.ID, domain.RoleUser, text)
}

// ProcessMessageWithMemory answers text with the user's history as context.
// Both turns are persisted only once the LLM has replied.
func (c *Conversations) ProcessMessageWithMemory(ctx context.Context, userID, text string) (string, error) {
	cc, err := c.LoadContext(ctx, userID)
	if err != nil {
		return "", err
	}

	messages := make([]domain.Message, 0, len(cc.History)+2)
	if c.systemPrompt != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: c.systemPrompt})
	}
	for _, t := range cc.History {
		role := domain.RoleAssistant
		if t.Role == domain.RoleUser {
			role = domain.RoleUser
		}
		messages = append(messages, domain.Message{Role: role, Content: t.Content})
	}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: text})

	start := time.Now()
	metrics.LLMRequestsTotal.Inc()
	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}

	c.logger.Info("llm reply",
		"user", userID,
		"provider", c.provider.Name(),
		"history", len(cc.History),
		"tokens", resp.Usage.TotalTokens,
		"latency", time.Since(start).Round(time.Millisecond),
	)

	if err := c.SaveExchange(ctx, cc.ConversationID, text, resp.Content); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Clear deletes the user's conversation. The next message starts a new one.
func (c *Conversations) Clear(ctx context.Context, userID string) error {
	conv, err := c.store.GetOrCreateConversation(ctx, userID)
	if err != nil {
		return fmt.Errorf("load conversation for %s: %w", userID, err)
	}
	if err := c.store.DeleteConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("clear conversation for %s: %w", userID, err)
	}
	c.logger.Info("conversation cleared", "user", userID)
	return nil
}
