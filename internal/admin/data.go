package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jarvis/internal/domain"
)

// BackupInfo describes one database backup file.
type BackupInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

var ErrNoBackupDir = errors.New("no backup directory configured")

// Backup writes a copy of the database into the backup directory.
func (s *Service) Backup(ctx context.Context, by string) (*BackupInfo, error) {
	if s.backupDir == "" {
		return nil, ErrNoBackupDir
	}
	name := "backup_" + s.now().UTC().Format("2006-01-02T15-04-05Z") + ".db"
	path := filepath.Join(s.backupDir, name)
	if err := s.store.Backup(ctx, path); err != nil {
		s.Audit(ctx, by, "backup", name, "failed: "+err.Error())
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat backup: %w", err)
	}
	s.Audit(ctx, by, "backup", name, "")
	s.logger.Info("backup created", "path", path, "size", fi.Size())
	return &BackupInfo{Name: name, Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Backups lists backup files, newest first.
func (s *Service) Backups() ([]BackupInfo, error) {
	if s.backupDir == "" {
		return nil, ErrNoBackupDir
	}
	entries, err := os.ReadDir(s.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup_") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Name:    e.Name(),
			Path:    filepath.Join(s.backupDir, e.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

// ClearUser deletes the conversation of phone and returns how many
// messages it held.
func (s *Service) ClearUser(ctx context.Context, userID, by string) (int64, error) {
	conv, err := s.findConversation(ctx, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.CountMessages(ctx, conv.ID)
	if err != nil {
		return 0, err
	}
	if err := s.store.DeleteConversation(ctx, conv.ID); err != nil {
		return 0, err
	}
	s.Audit(ctx, by, "clear", conv.UserID, fmt.Sprintf("%d messages", n))
	return n, nil
}

// ClearAll deletes every conversation.
func (s *Service) ClearAll(ctx context.Context, by string) (conversations, messages int64, err error) {
	conversations, messages, err = s.store.ClearAllConversations(ctx)
	if err != nil {
		return 0, 0, err
	}
	s.Audit(ctx, by, "clear", "all", fmt.Sprintf("%d conversations, %d messages", conversations, messages))
	return conversations, messages, nil
}

// findConversation accepts either the stored user id or any id with the
// same phone number.
func (s *Service) findConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, userID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return conv, err
	}
	phone := Phone(userID)
	users, err := s.store.ListUserActivity(ctx, 1000)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if Phone(u.UserID) == phone {
			return s.store.FindConversation(ctx, u.UserID)
		}
	}
	return nil, domain.ErrNotFound
}

type exportedMessage struct {
	At      time.Time `yaml:"at"`
	Role    string    `yaml:"role"`
	Content string    `yaml:"content"`
}

type exportedConversation struct {
	User       string            `yaml:"user"`
	ExportedAt time.Time         `yaml:"exported_at"`
	Messages   []exportedMessage `yaml:"messages"`
}

// Export writes the conversation of userID as YAML next to the backups and
// returns the file path and message count.
func (s *Service) Export(ctx context.Context, userID, by string) (string, int, error) {
	if s.backupDir == "" {
		return "", 0, ErrNoBackupDir
	}
	conv, err := s.findConversation(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	n, err := s.store.CountMessages(ctx, conv.ID)
	if err != nil {
		return "", 0, err
	}
	msgs, err := s.store.GetHistory(ctx, conv.ID, int(n)+1)
	if err != nil {
		return "", 0, err
	}

	out := exportedConversation{User: conv.UserID, ExportedAt: s.now().UTC()}
	for _, m := range msgs {
		out.Messages = append(out.Messages, exportedMessage{At: m.CreatedAt, Role: m.Role, Content: m.Content})
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return "", 0, fmt.Errorf("encode export: %w", err)
	}

	dir := filepath.Join(s.backupDir, "exports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, fmt.Sprintf("export_%s_%s.yaml", Phone(conv.UserID), s.now().UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", 0, fmt.Errorf("write export: %w", err)
	}
	s.Audit(ctx, by, "export", conv.UserID, path)
	return path, len(msgs), nil
}
