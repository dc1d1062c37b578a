package memory

import (
	"context"
	"errors"
	"testing"

	"jarvis/internal/domain"
)

type scriptedProvider struct {
	reply string
	err   error
	got   []domain.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.got = append(p.got, req)
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) Name() string                    { return "scripted" }
func (p *scriptedProvider) Models() []string                { return []string{"test"} }
func (p *scriptedProvider) Healthy(_ context.Context) error { return nil }

func testConversations(t *testing.T, p domain.Provider) (*Conversations, *SQLiteStore) {
	t.Helper()
	s := testStore(t)
	return NewConversations(ConversationsConfig{
		Store:        s,
		Provider:     p,
		Model:        "test",
		SystemPrompt: "Tu es Jarvis.",
		MaxHistory:   4,
		Logger:       testLogger(),
	}), s
}

func TestProcessMessageWithMemory_SendsHistoryAndPersists(t *testing.T) {
	p := &scriptedProvider{reply: "Bonjour ! Comment puis-je vous aider ?"}
	c, _ := testConversations(t, p)
	ctx := context.Background()

	reply, err := c.ProcessMessageWithMemory(ctx, "u1", "Bonjour")
	if err != nil {
		t.Fatal(err)
	}
	if reply != p.reply {
		t.Fatalf("unexpected reply %q", reply)
	}

	_, err = c.ProcessMessageWithMemory(ctx, "u1", "Et ensuite ?")
	if err != nil {
		t.Fatal(err)
	}

	req := p.got[1]
	if len(req.Messages) != 4 {
		t.Fatalf("expected system + 2 history + current, got %d messages", len(req.Messages))
	}
	if req.Messages[0].Role != domain.RoleSystem {
		t.Fatalf("first message should be the system prompt, got %q", req.Messages[0].Role)
	}
	if req.Messages[1].Content != "Bonjour" || req.Messages[2].Role != domain.RoleAssistant {
		t.Fatalf("history not forwarded in order: %+v", req.Messages)
	}
	if req.Messages[3].Content != "Et ensuite ?" {
		t.Fatalf("current message should be last, got %q", req.Messages[3].Content)
	}

	cc, err := c.LoadContext(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cc.History) != 4 {
		t.Fatalf("expected 4 persisted turns, got %d", len(cc.History))
	}
}

func TestProcessMessageWithMemory_BoundsHistory(t *testing.T) {
	p := &scriptedProvider{reply: "ok"}
	c, _ := testConversations(t, p)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.ProcessMessageWithMemory(ctx, "u1", "message"); err != nil {
			t.Fatal(err)
		}
	}
	last := p.got[len(p.got)-1]
	// system + MaxHistory + current
	if len(last.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(last.Messages))
	}
}

func TestProcessMessageWithMemory_NothingSavedOnError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("upstream down")}
	c, _ := testConversations(t, p)
	ctx := context.Background()

	if _, err := c.ProcessMessageWithMemory(ctx, "u1", "Bonjour"); err == nil {
		t.Fatal("expected error")
	}
	cc, _ := c.LoadContext(ctx, "u1")
	if len(cc.History) != 0 {
		t.Fatalf("expected empty history after failure, got %d", len(cc.History))
	}
}

func TestClear(t *testing.T) {
	p := &scriptedProvider{reply: "ok"}
	c, _ := testConversations(t, p)
	ctx := context.Background()

	_, _ = c.ProcessMessageWithMemory(ctx, "u1", "Bonjour")
	before, _ := c.LoadContext(ctx, "u1")

	if err := c.Clear(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	after, _ := c.LoadContext(ctx, "u1")
	if len(after.History) != 0 {
		t.Fatalf("expected empty history, got %d", len(after.History))
	}
	if after.ConversationID == before.ConversationID {
		t.Fatal("expected a fresh conversation id")
	}
}

func TestRecordUserMessage(t *testing.T) {
	c, _ := testConversations(t, &scriptedProvider{})
	ctx := context.Background()

	if err := c.RecordUserMessage(ctx, "u1", "message de groupe"); err != nil {
		t.Fatal(err)
	}
	cc, _ := c.LoadContext(ctx, "u1")
	if len(cc.History) != 1 || cc.History[0].Role != domain.RoleUser {
		t.Fatalf("unexpected history: %+v", cc.History)
	}
}
