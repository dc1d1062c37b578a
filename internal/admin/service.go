// Package admin holds the operator state the dispatcher consults on every
// message (admins, blacklist, daily limits, bot mode) and the maintenance
// actions behind /admin.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"jarvis/internal/domain"
	"jarvis/internal/memory"
)

const (
	AdminsCollection    = "admins"
	BlacklistCollection = "blacklist"
	LimitsCollection    = "user_limits"
	ConfigCollection    = "bot_config"
)

// Setting keys an admin may change at runtime.
const (
	KeyBotMode        = "bot_mode"
	KeyTypingDelay    = "typing_delay"
	KeyMaxHistory     = "max_history_length"
	KeyTemperature    = "ai_temperature"
	KeyWelcome        = "welcome_message"
	KeyError          = "error_message"
	KeyMaintenance    = "maintenance_message"
	KeyBotName        = "bot_name"
	KeyBotPersonality = "bot_personality"
)

const (
	resetWindow = 24 * time.Hour
	debugWindow = 30 * time.Minute
)

// AllowedSettings lists the keys accepted by SetSetting, in display order.
var AllowedSettings = []string{
	KeyTypingDelay, KeyMaxHistory, KeyTemperature, KeyWelcome,
	KeyError, KeyMaintenance, KeyBotName, KeyBotPersonality,
}

var (
	ErrAlreadyBlocked = errors.New("user already blocked")
	ErrNotBlocked     = errors.New("user not blocked")
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidValue   = errors.New("invalid value")
)

// Store is the persistence the admin service needs.
type Store interface {
	domain.DocumentStore
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	Stats(ctx context.Context, since time.Time) (*memory.Stats, error)
	ListUserActivity(ctx context.Context, limit int) ([]memory.UserActivity, error)
	FindConversation(ctx context.Context, userID string) (*domain.Conversation, error)
	CountMessages(ctx context.Context, convID string) (int64, error)
	GetHistory(ctx context.Context, convID string, limit int) ([]domain.MessageRecord, error)
	DeleteConversation(ctx context.Context, convID string) error
	ClearAllConversations(ctx context.Context) (int64, int64, error)
	Backup(ctx context.Context, dest string) error
}

// Service is safe for concurrent use. The bot mode and settings are cached
// in memory and written through to the bot_config collection.
type Service struct {
	store        Store
	seedAdmins   []string
	defaultLimit int
	backupDir    string
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.RWMutex
	mode     domain.BotMode
	settings map[string]string
	debug    map[string]time.Time // phone -> expiry
}

type Config struct {
	Store Store
	// Admins are phone numbers seeded into the admins collection.
	Admins []string
	// DefaultDailyLimit applies to users without an explicit limit; 0 means unlimited.
	DefaultDailyLimit int
	BackupDir         string
	Now               func() time.Time
	Logger            *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:        cfg.Store,
		seedAdmins:   cfg.Admins,
		defaultLimit: cfg.DefaultDailyLimit,
		backupDir:    cfg.BackupDir,
		now:          cfg.Now,
		logger:       cfg.Logger,
		mode:         domain.ModeNormal,
		settings:     make(map[string]string),
		debug:        make(map[string]time.Time),
	}
}

// Phone reduces a transport id ("2250700000000@s.whatsapp.net", "+225 07...")
// to its digits so admin state is keyed the same way whatever its origin.
func Phone(id string) string {
	if i := strings.IndexAny(id, "@:"); i >= 0 {
		id = id[:i]
	}
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return id
	}
	return b.String()
}

// Init seeds the configured admins and loads persisted settings.
func (s *Service) Init(ctx context.Context) error {
	for _, n := range s.seedAdmins {
		phone := Phone(n)
		existing, err := s.store.ListRecords(ctx, AdminsCollection, domain.Where("phone", phone))
		if err != nil {
			return fmt.Errorf("load admins: %w", err)
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := s.store.CreateRecord(ctx, AdminsCollection, map[string]any{
			"phone": phone, "added_by": "config", "added_at": s.now(),
		}); err != nil {
			return fmt.Errorf("seed admin %s: %w", phone, err)
		}
		s.logger.Info("admin seeded", "phone", phone)
	}

	recs, err := s.store.ListRecords(ctx, ConfigCollection, domain.Query{})
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		key, value := rec.String("key"), rec.String("value")
		if key == KeyBotMode {
			if m := domain.BotMode(value); m.Valid() {
				s.mode = m
			}
			continue
		}
		s.settings[key] = value
	}
	s.logger.Info("admin state loaded", "mode", s.mode, "settings", len(s.settings))
	return nil
}

// IsAdmin reports whether userID is a registered admin. Lookup errors deny.
func (s *Service) IsAdmin(ctx context.Context, userID string) bool {
	recs, err := s.store.ListRecords(ctx, AdminsCollection, domain.Where("phone", Phone(userID)))
	if err != nil {
		s.logger.Error("admin lookup failed", "user", userID, "err", err)
		return false
	}
	return len(recs) > 0
}

// Admins returns the phone numbers of every admin.
func (s *Service) Admins(ctx context.Context) ([]string, error) {
	recs, err := s.store.ListRecords(ctx, AdminsCollection, domain.Query{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.String("phone"))
	}
	return out, nil
}

// Mode returns the current bot mode.
func (s *Service) Mode() domain.BotMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode persists a new bot mode.
func (s *Service) SetMode(ctx context.Context, mode domain.BotMode, by string) error {
	if !mode.Valid() {
		return fmt.Errorf("mode %q: %w", mode, ErrInvalidValue)
	}
	if err := s.putConfig(ctx, KeyBotMode, string(mode), by); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.Audit(ctx, by, "mode", "", string(mode))
	return nil
}

// Setting returns a runtime setting.
func (s *Service) Setting(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok
}

// Settings returns a copy of every runtime setting.
func (s *Service) Settings() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// SetSetting validates and persists a runtime setting.
func (s *Service) SetSetting(ctx context.Context, key, value, by string) error {
	if !slices.Contains(AllowedSettings, key) {
		return fmt.Errorf("%s: %w", key, ErrUnknownSetting)
	}
	if err := validateSetting(key, value); err != nil {
		return err
	}
	if err := s.putConfig(ctx, key, value, by); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings[key] = value
	s.mu.Unlock()
	s.Audit(ctx, by, "config set", key, value)
	return nil
}

func validateSetting(key, value string) error {
	switch key {
	case KeyTypingDelay:
		var ms int
		if _, err := fmt.Sscanf(value, "%d", &ms); err != nil || ms < 0 || ms > 10000 {
			return fmt.Errorf("typing_delay must be 0-10000 ms: %w", ErrInvalidValue)
		}
	case KeyMaxHistory:
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n < 1 || n > 100 {
			return fmt.Errorf("max_history_length must be 1-100: %w", ErrInvalidValue)
		}
	case KeyTemperature:
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err != nil || f < 0 || f > 1 {
			return fmt.Errorf("ai_temperature must be 0.0-1.0: %w", ErrInvalidValue)
		}
	}
	return nil
}

func (s *Service) putConfig(ctx context.Context, key, value, by string) error {
	data := map[string]any{"key": key, "value": value, "updated_by": by, "updated_at": s.now()}
	existing, err := s.store.ListRecords(ctx, ConfigCollection, domain.Where("key", key))
	if err != nil {
		return fmt.Errorf("load setting %s: %w", key, err)
	}
	if len(existing) > 0 {
		_, err = s.store.UpdateRecord(ctx, ConfigCollection, existing[0].ID, data)
	} else {
		_, err = s.store.CreateRecord(ctx, ConfigCollection, data)
	}
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// BlacklistEntry is one blocked user.
type BlacklistEntry struct {
	Phone     string
	Reason    string
	BlockedBy string
	BlockedAt time.Time
}

// IsBlacklisted reports whether userID is blocked. Lookup errors allow.
func (s *Service) IsBlacklisted(ctx context.Context, userID string) bool {
	recs, err := s.store.ListRecords(ctx, BlacklistCollection, domain.Where("phone", Phone(userID)))
	if err != nil {
		s.logger.Error("blacklist lookup failed", "user", userID, "err", err)
		return false
	}
	return len(recs) > 0
}

func (s *Service) Block(ctx context.Context, phone, reason, by string) error {
	phone = Phone(phone)
	if s.IsBlacklisted(ctx, phone) {
		return ErrAlreadyBlocked
	}
	if reason == "" {
		reason = "Décision admin"
	}
	if _, err := s.store.CreateRecord(ctx, BlacklistCollection, map[string]any{
		"phone": phone, "reason": reason, "blocked_by": Phone(by), "blocked_at": s.now(),
	}); err != nil {
		return fmt.Errorf("block %s: %w", phone, err)
	}
	s.Audit(ctx, by, "block", phone, reason)
	return nil
}

func (s *Service) Unblock(ctx context.Context, phone, by string) error {
	phone = Phone(phone)
	recs, err := s.store.ListRecords(ctx, BlacklistCollection, domain.Where("phone", phone))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return ErrNotBlocked
	}
	for _, r := range recs {
		if err := s.store.DeleteRecord(ctx, BlacklistCollection, r.ID); err != nil {
			return fmt.Errorf("unblock %s: %w", phone, err)
		}
	}
	s.Audit(ctx, by, "unblock", phone, "")
	return nil
}

func (s *Service) Blacklist(ctx context.Context) ([]BlacklistEntry, error) {
	recs, err := s.store.ListRecords(ctx, BlacklistCollection, domain.Query{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	out := make([]BlacklistEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, BlacklistEntry{
			Phone:     r.String("phone"),
			Reason:    r.String("reason"),
			BlockedBy: r.String("blocked_by"),
			BlockedAt: r.Time("blocked_at"),
		})
	}
	return out, nil
}

// EnableDebug turns on verbose dispatch logging for phone for 30 minutes.
func (s *Service) EnableDebug(ctx context.Context, phone, by string) time.Time {
	phone = Phone(phone)
	until := s.now().Add(debugWindow)
	s.mu.Lock()
	s.debug[phone] = until
	s.mu.Unlock()
	s.Audit(ctx, by, "debug", phone, "")
	return until
}

// IsDebug reports whether debug logging is on for userID.
func (s *Service) IsDebug(userID string) bool {
	phone := Phone(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.debug[phone]
	if !ok {
		return false
	}
	if s.now().After(until) {
		delete(s.debug, phone)
		return false
	}
	return true
}

// Audit records an admin action. Failures are logged, never returned.
func (s *Service) Audit(ctx context.Context, by, action, target, details string) {
	err := s.store.LogAudit(ctx, domain.AuditEntry{
		Admin:   Phone(by),
		Action:  action,
		Target:  target,
		Details: details,
		At:      s.now(),
	})
	if err != nil {
		s.logger.Error("audit write failed", "action", action, "err", err)
	}
}

func (s *Service) AuditLog(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return s.store.ListAudit(ctx, limit)
}

// Stats counts stored data, with messages since the start of today.
func (s *Service) Stats(ctx context.Context, loc *time.Location) (*memory.Stats, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := s.now().In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return s.store.Stats(ctx, midnight)
}

func (s *Service) Users(ctx context.Context, limit int) ([]memory.UserActivity, error) {
	return s.store.ListUserActivity(ctx, limit)
}
