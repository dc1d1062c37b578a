package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"jarvis/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore, domain.DocumentStore and
// domain.KnowledgeStore on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for maintenance commands.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- conversations ---

func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), userID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	var conv domain.Conversation
	err = s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = ?`, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, convID, role, content string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		convID, role, content, now,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	_, _ = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID,
	)
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, convID string, limit int) ([]domain.MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	// Last N messages, newest first; reversed below.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.MessageRecord
	for rows.Next() {
		var m domain.MessageRecord
		var content sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content = content.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, convID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, convID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// FindConversation returns the conversation of userID without creating one.
func (s *SQLiteStore) FindConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = ?`, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, convID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, convID,
	).Scan(&n)
	return n, err
}

// UserActivity summarises one user's conversation.
type UserActivity struct {
	UserID       string
	Messages     int64
	LastActivity time.Time
}

// ListUserActivity returns the most recently active users first.
func (s *SQLiteStore) ListUserActivity(ctx context.Context, limit int) ([]UserActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.user_id, COUNT(m.id), c.updated_at
		 FROM conversations c LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.id ORDER BY c.updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserActivity
	for rows.Next() {
		var u UserActivity
		if err := rows.Scan(&u.UserID, &u.Messages, &u.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ClearAllConversations deletes every conversation and message.
func (s *SQLiteStore) ClearAllConversations(ctx context.Context) (conversations, messages int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, 0, fmt.Errorf("delete messages: %w", err)
	}
	messages, _ = res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM conversations`)
	if err != nil {
		return 0, 0, fmt.Errorf("delete conversations: %w", err)
	}
	conversations, _ = res.RowsAffected()
	return conversations, messages, tx.Commit()
}

// Stats is a snapshot of table sizes used by the admin stats command.
type Stats struct {
	Conversations int64
	Messages      int64
	MessagesToday int64
	Documents     int64
	Records       map[string]int64
}

func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{Records: make(map[string]int64)}
	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.Conversations, `SELECT COUNT(*) FROM conversations`, nil},
		{&st.Messages, `SELECT COUNT(*) FROM messages`, nil},
		{&st.MessagesToday, `SELECT COUNT(*) FROM messages WHERE created_at >= ?`, []any{since.UTC()}},
		{&st.Documents, `SELECT COUNT(*) FROM documents`, nil},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT collection, COUNT(*) FROM records GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		st.Records[name] = n
	}
	return st, rows.Err()
}

// --- record collections ---

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var allowedOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (s *SQLiteStore) ListRecords(ctx context.Context, collection string, q domain.Query) ([]domain.Record, error) {
	where, args, err := buildWhere(collection, q)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(q)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, collection, data, created_at, updated_at FROM records WHERE ` + where + ` ORDER BY ` + order
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountRecords counts the records of a collection matching q.
func (s *SQLiteStore) CountRecords(ctx context.Context, collection string, q domain.Query) (int, error) {
	where, args, err := buildWhere(collection, q)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&n)
	return n, err
}

func (s *SQLiteStore) GetRecord(ctx context.Context, collection, id string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, data, created_at, updated_at FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, collection string, data map[string]any) (*domain.Record, error) {
	now := time.Now().UTC()
	rec := &domain.Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Data:       normalize(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, collection, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, collection, string(raw), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s record: %w", collection, err)
	}
	return rec, nil
}

// UpdateRecord merges data into the stored record. A nil value removes the
// field.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, collection, id string, data map[string]any) (*domain.Record, error) {
	rec, err := s.GetRecord(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = make(map[string]any)
	}
	for k, v := range normalize(data) {
		if v == nil {
			delete(rec.Data, k)
			continue
		}
		rec.Data[k] = v
	}
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), rec.UpdatedAt, collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update %s record: %w", collection, err)
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s record: %w", collection, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var raw string
	if err := row.Scan(&rec.ID, &rec.Collection, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.Data); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func buildWhere(collection string, q domain.Query) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, f := range q.Filters {
		if !fieldName.MatchString(f.Field) {
			return "", nil, fmt.Errorf("invalid field name %q", f.Field)
		}
		op := f.Op
		if op == "" {
			op = "="
		}
		if !allowedOps[op] {
			return "", nil, fmt.Errorf("invalid operator %q", f.Op)
		}
		clauses = append(clauses, fmt.Sprintf("json_extract(data, '$.%s') %s ?", f.Field, op))
		args = append(args, sqlValue(f.Value))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func orderClause(q domain.Query) (string, error) {
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	switch q.OrderBy {
	case "", "created_at":
		return "created_at " + dir + ", rowid " + dir, nil
	case "updated_at":
		return "updated_at " + dir + ", rowid " + dir, nil
	}
	if !fieldName.MatchString(q.OrderBy) {
		return "", fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	return fmt.Sprintf("json_extract(data, '$.%s') %s, rowid %s", q.OrderBy, dir, dir), nil
}

// sqlValue converts a filter value to what json_extract yields for it.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return v
}

// normalize stores times as UTC RFC 3339 so they compare as strings.
func normalize(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().Format(time.RFC3339)
			continue
		}
		out[k] = v
	}
	return out
}

// --- audit ---

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (admin, action, target, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Admin, entry.Action, entry.Target, entry.Details, entry.At.UTC(),
	)
	return err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT admin, action, target, details, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var target, details sql.NullString
		if err := rows.Scan(&e.Admin, &e.Action, &target, &details, &e.At); err != nil {
			return nil, err
		}
		e.Target = target.String
		e.Details = details.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- documents ---

func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.UserDocument, chunks []string) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, name, mime_type, size, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.UserID, doc.Name, doc.MimeType, doc.Size, doc.Summary, doc.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for i, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (document_id, chunk_index, content) VALUES (?, ?, ?)`,
			doc.ID, i, c,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

const documentColumns = `d.id, d.user_id, d.name, d.mime_type, d.size, d.summary, d.created_at,
	(SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id)`

func scanDocument(row rowScanner) (*domain.UserDocument, error) {
	var d domain.UserDocument
	var mime, summary sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &d.Name, &mime, &d.Size, &summary, &d.CreatedAt, &d.ChunkCount); err != nil {
		return nil, err
	}
	d.MimeType = mime.String
	d.Summary = summary.String
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]domain.UserDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents d WHERE d.user_id = ? ORDER BY d.created_at, d.rowid`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*domain.UserDocument, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return d, err
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) DocumentChunks(ctx context.Context, docID string) ([]domain.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, chunk_index, content FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- maintenance ---

// Backup writes a consistent copy of the database to dest.
func (s *SQLiteStore) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}
