// Package scheduler delivers reminders and scheduled messages when they
// fall due. Both live in the document store so they survive restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"jarvis/internal/domain"
)

const (
	RemindersCollection = "reminders"
	ScheduledCollection = "scheduled_messages"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Recurrence intervals accepted for reminders.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Reminder is a note delivered back to the user who created it.
type Reminder struct {
	ID        string
	UserID    string
	To        string
	Message   string
	DueAt     time.Time
	Recurring string
	Status    string
}

// ScheduledMessage is a message sent once to an arbitrary recipient.
type ScheduledMessage struct {
	ID        string
	CreatedBy string
	To        string
	Message   string
	DueAt     time.Time
	Status    string
	Error     string
}

// Scheduler polls the store once per tick and hands due items to the bus.
type Scheduler struct {
	store    domain.DocumentStore
	bus      domain.MessageBus
	channel  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex // serialises ticks
	stopCh   chan struct{}
	stopOnce sync.Once
}

type Config struct {
	Store domain.DocumentStore
	Bus   domain.MessageBus
	// Channel is the outbound channel name due items are sent on (default: whatsapp).
	Channel  string
	Interval time.Duration // default: 1s
	Now      func() time.Time
	Logger   *slog.Logger
}

func New(cfg Config) *Scheduler {
	if cfg.Channel == "" {
		cfg.Channel = "whatsapp"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		channel:  cfg.Channel,
		interval: cfg.Interval,
		now:      cfg.Now,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Tick delivers everything due now and returns how many messages were sent.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sent := 0

	reminders, err := s.store.ListRecords(ctx, RemindersCollection, domain.Query{
		Filters: []domain.Filter{
			{Field: "status", Op: "=", Value: StatusActive},
			{Field: "due_at", Op: "<=", Value: now},
		},
		OrderBy: "due_at",
	})
	if err != nil {
		s.logger.Error("load due reminders", "err", err)
	}
	for _, rec := range reminders {
		r := reminderFrom(rec)
		s.bus.SendOutbound(domain.OutboundMessage{Channel: s.channel, To: r.To, Content: FormatDelivery(r)})
		sent++

		update := map[string]any{"last_triggered": now}
		if next, ok := nextOccurrence(r.DueAt, r.Recurring, now); ok {
			update["due_at"] = next
		} else {
			update["status"] = StatusCompleted
		}
		if _, err := s.store.UpdateRecord(ctx, RemindersCollection, r.ID, update); err != nil {
			s.logger.Error("update reminder", "id", r.ID, "err", err)
		}
		s.logger.Info("reminder sent", "id", r.ID, "user", r.UserID, "recurring", r.Recurring)
	}

	scheduled, err := s.store.ListRecords(ctx, ScheduledCollection, domain.Query{
		Filters: []domain.Filter{
			{Field: "status", Op: "=", Value: StatusPending},
			{Field: "due_at", Op: "<=", Value: now},
		},
		OrderBy: "due_at",
	})
	if err != nil {
		s.logger.Error("load due scheduled messages", "err", err)
	}
	for _, rec := range scheduled {
		m := scheduledFrom(rec)
		update := map[string]any{"status": StatusSent, "sent_at": now}
		if m.To == "" || m.Message == "" {
			update = map[string]any{"status": StatusFailed, "error": "missing recipient or message"}
		} else {
			s.bus.SendOutbound(domain.OutboundMessage{Channel: s.channel, To: m.To, Content: m.Message})
			sent++
		}
		if _, err := s.store.UpdateRecord(ctx, ScheduledCollection, m.ID, update); err != nil {
			s.logger.Error("update scheduled message", "id", m.ID, "err", err)
		}
		s.logger.Info("scheduled message processed", "id", m.ID, "to", m.To, "status", update["status"])
	}
	return sent
}

// nextOccurrence moves a recurring due date forward past now.
func nextOccurrence(due time.Time, recurring string, now time.Time) (time.Time, bool) {
	step := func(t time.Time) time.Time {
		switch recurring {
		case Daily:
			return t.AddDate(0, 0, 1)
		case Weekly:
			return t.AddDate(0, 0, 7)
		case Monthly:
			return t.AddDate(0, 1, 0)
		}
		return t
	}
	if step(due).Equal(due) {
		return time.Time{}, false
	}
	next := step(due)
	for !next.After(now) {
		next = step(next)
	}
	return next, true
}

// ValidRecurrence reports whether r is "" or a known interval.
func ValidRecurrence(r string) bool {
	switch r {
	case "", Daily, Weekly, Monthly:
		return true
	}
	return false
}

// CreateReminder stores a reminder for userID, delivered to the chat to.
func (s *Scheduler) CreateReminder(ctx context.Context, userID, to, message string, due time.Time, recurring string) (*Reminder, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("reminder message is empty")
	}
	if !ValidRecurrence(recurring) {
		return nil, fmt.Errorf("unknown recurrence %q", recurring)
	}
	rec, err := s.store.CreateRecord(ctx, RemindersCollection, map[string]any{
		"user_id":   userID,
		"to":        to,
		"message":   message,
		"due_at":    due,
		"recurring": recurring,
		"status":    StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	r := reminderFrom(*rec)
	s.logger.Info("reminder created", "id", r.ID, "user", userID, "due", due)
	return &r, nil
}

// Reminders lists the active reminders of userID, soonest first.
func (s *Scheduler) Reminders(ctx context.Context, userID string) ([]Reminder, error) {
	q := domain.Where("user_id", userID).And("status", StatusActive)
	q.OrderBy = "due_at"
	recs, err := s.store.ListRecords(ctx, RemindersCollection, q)
	if err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, len(recs))
	for _, rec := range recs {
		out = append(out, reminderFrom(rec))
	}
	return out, nil
}

// CancelReminder cancels the active reminder of userID whose id starts with
// prefix.
func (s *Scheduler) CancelReminder(ctx context.Context, userID, prefix string) (*Reminder, error) {
	list, err := s.Reminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		if matchesID(r.ID, prefix) {
			if _, err := s.store.UpdateRecord(ctx, RemindersCollection, r.ID, map[string]any{"status": StatusCancelled}); err != nil {
				return nil, err
			}
			r.Status = StatusCancelled
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ScheduleMessage stores a message to be sent to to at due.
func (s *Scheduler) ScheduleMessage(ctx context.Context, createdBy, to, message string, due time.Time) (*ScheduledMessage, error) {
	if strings.TrimSpace(message) == "" || to == "" {
		return nil, errors.New("scheduled message needs a recipient and a text")
	}
	rec, err := s.store.CreateRecord(ctx, ScheduledCollection, map[string]any{
		"created_by": createdBy,
		"to":         to,
		"message":    message,
		"due_at":     due,
		"status":     StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule message: %w", err)
	}
	m := scheduledFrom(*rec)
	s.logger.Info("message scheduled", "id", m.ID, "by", createdBy, "to", to, "due", due)
	return &m, nil
}

// ScheduledMessages lists pending messages, soonest first. An empty
// createdBy lists everyone's.
func (s *Scheduler) ScheduledMessages(ctx context.Context, createdBy string) ([]ScheduledMessage, error) {
	q := domain.Where("status", StatusPending)
	if createdBy != "" {
		q = q.And("created_by", createdBy)
	}
	q.OrderBy = "due_at"
	recs, err := s.store.ListRecords(ctx, ScheduledCollection, q)
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledMessage, 0, len(recs))
	for _, rec := range recs {
		out = append(out, scheduledFrom(rec))
	}
	return out, nil
}

// CancelMessage cancels a pending message whose id starts with prefix. An
// empty createdBy may cancel anyone's.
func (s *Scheduler) CancelMessage(ctx context.Context, createdBy, prefix string) (*ScheduledMessage, error) {
	list, err := s.ScheduledMessages(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if matchesID(m.ID, prefix) {
			if _, err := s.store.UpdateRecord(ctx, ScheduledCollection, m.ID, map[string]any{"status": StatusCancelled}); err != nil {
				return nil, err
			}
			m.Status = StatusCancelled
			return &m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func matchesID(id, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	return prefix != "" && strings.HasPrefix(id, prefix)
}

func reminderFrom(rec domain.Record) Reminder {
	return Reminder{
		ID:        rec.ID,
		UserID:    rec.String("user_id"),
		To:        rec.String("to"),
		Message:   rec.String("message"),
		DueAt:     rec.Time("due_at"),
		Recurring: rec.String("recurring"),
		Status:    rec.String("status"),
	}
}

func scheduledFrom(rec domain.Record) ScheduledMessage {
	return ScheduledMessage{
		ID:        rec.ID,
		CreatedBy: rec.String("created_by"),
		To:        rec.String("to"),
		Message:   rec.String("message"),
		DueAt:     rec.Time("due_at"),
		Status:    rec.String("status"),
		Error:     rec.String("error"),
	}
}
