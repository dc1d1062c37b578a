package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jarvis/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jarvis.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateConversation_OnePerUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreateConversation(ctx, "2250700000001")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetOrCreateConversation(ctx, "2250700000001")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same conversation, got %s and %s", a.ID, b.ID)
	}
	c, err := s.GetOrCreateConversation(ctx, "2250700000002")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == a.ID {
		t.Fatal("different users must not share a conversation")
	}
}

func TestGetHistory_LastNOldestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.GetOrCreateConversation(ctx, "u1")

	for i := 0; i < 25; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		if err := s.AppendMessage(ctx, conv.ID, role, string(rune('a'+i))); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetHistory(ctx, conv.ID, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "f" || msgs[19].Content != "y" {
		t.Fatalf("unexpected window: first=%q last=%q", msgs[0].Content, msgs[19].Content)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.GetOrCreateConversation(ctx, "u1")
	_ = s.AppendMessage(ctx, conv.ID, domain.RoleUser, "salut")

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.GetHistory(ctx, conv.ID, 20)
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after delete, got %d", len(msgs))
	}
	if err := s.DeleteConversation(ctx, conv.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	fresh, _ := s.GetOrCreateConversation(ctx, "u1")
	if fresh.ID == conv.ID {
		t.Fatal("expected a new conversation after delete")
	}
}

func TestUserActivity_AndClearAll(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.FindConversation(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before the first message, got %v", err)
	}

	a, _ := s.GetOrCreateConversation(ctx, "u1")
	_ = s.AppendMessage(ctx, a.ID, domain.RoleUser, "bonjour")
	_ = s.AppendMessage(ctx, a.ID, domain.RoleAssistant, "bonjour !")
	b, _ := s.GetOrCreateConversation(ctx, "u2")
	_ = s.AppendMessage(ctx, b.ID, domain.RoleUser, "salut")

	found, err := s.FindConversation(ctx, "u1")
	if err != nil || found.ID != a.ID {
		t.Fatalf("FindConversation = %+v, %v", found, err)
	}
	if n, _ := s.CountMessages(ctx, a.ID); n != 2 {
		t.Fatalf("expected 2 messages, got %d", n)
	}

	users, err := s.ListUserActivity(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	counts := map[string]int64{}
	for _, u := range users {
		counts[u.UserID] = u.Messages
	}
	if counts["u1"] != 2 || counts["u2"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	convs, msgs, err := s.ClearAllConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if convs != 2 || msgs != 3 {
		t.Fatalf("cleared %d conversations and %d messages", convs, msgs)
	}
}

func TestRecords_CRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, "tickets", map[string]any{
		"user_id": "u1",
		"subject": "Site en panne",
		"open":    true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecord(ctx, "tickets", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.String("subject") != "Site en panne" || !got.Bool("open") {
		t.Fatalf("unexpected record data: %v", got.Data)
	}

	upd, err := s.UpdateRecord(ctx, "tickets", rec.ID, map[string]any{"open": false, "subject": nil})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Bool("open") {
		t.Fatal("expected open=false after update")
	}
	if _, ok := upd.Data["subject"]; ok {
		t.Fatal("nil value should remove the field")
	}
	if upd.String("user_id") != "u1" {
		t.Fatal("update must keep untouched fields")
	}

	if err := s.DeleteRecord(ctx, "tickets", rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRecord(ctx, "tickets", rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteRecord(ctx, "tickets", rec.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListRecords_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		_, err := s.CreateRecord(ctx, "reminders", map[string]any{
			"user_id": user,
			"sent":    i == 0,
			"due_at":  base.Add(time.Duration(3-i) * time.Hour),
			"rank":    i,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	_, _ = s.CreateRecord(ctx, "notes", map[string]any{"user_id": "u1"})

	recs, err := s.ListRecords(ctx, "reminders", domain.Where("user_id", "u1").And("sent", false))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 pending reminders for u1, got %d", len(recs))
	}

	q := domain.Query{
		Filters: []domain.Filter{{Field: "due_at", Op: "<=", Value: base.Add(time.Hour)}},
		OrderBy: "due_at",
	}
	recs, err = s.ListRecords(ctx, "reminders", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Int("rank") != 3 || recs[1].Int("rank") != 2 {
		t.Fatalf("unexpected due reminders: %+v", recs)
	}

	recs, err = s.ListRecords(ctx, "reminders", domain.Query{OrderBy: "rank", Desc: true, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Int("rank") != 3 {
		t.Fatalf("expected top rank 3, got %+v", recs)
	}

	n, err := s.CountRecords(ctx, "reminders", domain.Query{})
	if err != nil || n != 4 {
		t.Fatalf("CountRecords = %d, %v; want 4", n, err)
	}
}

func TestListRecords_RejectsInjection(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.ListRecords(ctx, "notes", domain.Where("x') OR 1=1 --", "y"))
	if err == nil {
		t.Fatal("expected invalid field name error")
	}
	_, err = s.ListRecords(ctx, "notes", domain.Query{Filters: []domain.Filter{{Field: "a", Op: "LIKE", Value: "%"}}})
	if err == nil {
		t.Fatal("expected invalid operator error")
	}
}

func TestAudit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.LogAudit(ctx, domain.AuditEntry{Admin: "admin1", Action: "block", Target: "u9"})
	_ = s.LogAudit(ctx, domain.AuditEntry{Admin: "admin1", Action: "mode", Details: "maintenance"})

	entries, err := s.ListAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != "mode" || entries[1].Target != "u9" {
		t.Fatalf("unexpected audit order: %+v", entries)
	}
}

func TestDocuments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := domain.UserDocument{UserID: "u1", Name: "devis.txt", MimeType: "text/plain", Size: 42}
	if err := s.AddDocument(ctx, doc, []string{"premier", "second"}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.ListDocuments(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ChunkCount != 2 || docs[0].Name != "devis.txt" {
		t.Fatalf("unexpected documents: %+v", docs)
	}

	chunks, err := s.DocumentChunks(ctx, docs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[1].Content != "second" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	if err := s.DeleteDocument(ctx, docs[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDocument(ctx, docs[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.GetOrCreateConversation(ctx, "u1")
	_ = s.AppendMessage(ctx, conv.ID, domain.RoleUser, "bonjour")
	_, _ = s.CreateRecord(ctx, "blacklist", map[string]any{"user_id": "u2"})

	st, err := s.Stats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if st.Conversations != 1 || st.Messages != 1 || st.MessagesToday != 1 || st.Records["blacklist"] != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestBackup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv, _ := s.GetOrCreateConversation(ctx, "u1")
	_ = s.AppendMessage(ctx, conv.ID, domain.RoleUser, "à sauvegarder")

	dest := filepath.Join(t.TempDir(), "backups", "copy.db")
	if err := s.Backup(ctx, dest); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dest); err != nil || info.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}
	if err := s.Backup(ctx, dest); err == nil {
		t.Fatal("expected error when backup target exists")
	}

	copyStore, err := NewSQLiteStore(dest, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer copyStore.Close()
	got, _ := copyStore.GetOrCreateConversation(ctx, "u1")
	msgs, _ := copyStore.GetHistory(ctx, got.ID, 5)
	if len(msgs) != 1 || msgs[0].Content != "à sauvegarder" {
		t.Fatalf("backup content mismatch: %+v", msgs)
	}
}
