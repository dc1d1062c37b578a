// Package support keeps the customer-facing records created from chat:
// support tickets (including escalations to a human) and projects.
package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"jarvis/internal/domain"
)

const (
	TicketsCollection  = "tickets"
	ProjectsCollection = "projects"
)

// Ticket statuses and priorities.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Project statuses.
const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in_progress"
	ProjectTesting    = "testing"
	ProjectCompleted  = "completed"
	ProjectOnHold     = "on_hold"
)

// listLimit bounds what a user sees in /tickets and /projects.
const listLimit = 5

type Ticket struct {
	ID          string
	UserID      string
	Subject     string
	Description string
	Status      string
	Priority    string
	Escalated   bool
	CreatedAt   time.Time
}

type Project struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Status      string
	Progress    int
	StartedAt   time.Time
	EndedAt     time.Time
}

type Service struct {
	store  domain.DocumentStore
	now    func() time.Time
	intN   func(n int) int
	logger *slog.Logger
}

type Config struct {
	Store  domain.DocumentStore
	Now    func() time.Time
	IntN   func(n int) int // ticket number suffix; default math/rand/v2.IntN
	Logger *slog.Logger
}

func New(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{store: cfg.Store, now: cfg.Now, intN: cfg.IntN, logger: cfg.Logger}
}

// ticketNumber is YYMM followed by four random digits.
func (s *Service) ticketNumber() string {
	return s.now().Format("0601") + fmt.Sprintf("%04d", s.intN(10000))
}

// CreateTicket opens a ticket for userID. An empty priority means medium.
func (s *Service) CreateTicket(ctx context.Context, userID, subject, description, priority string, escalated bool) (*Ticket, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.New("ticket description is empty")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	rec, err := s.store.CreateRecord(ctx, TicketsCollection, map[string]any{
		"user_id":     userID,
		"subject":     "#" + s.ticketNumber() + " - " + subject,
		"description": description,
		"status":      StatusOpen,
		"priority":    priority,
		"escalated":   escalated,
		"opened_at":   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	t := ticketFrom(*rec)
	s.logger.Info("ticket created", "id", t.ID, "user", userID, "priority", priority, "escalated", escalated)
	return &t, nil
}

// UserTickets returns the most recent tickets of userID.
func (s *Service) UserTickets(ctx context.Context, userID string) ([]Ticket, error) {
	q := domain.Where("user_id", userID)
	q.OrderBy, q.Desc, q.Limit = "created_at", true, listLimit
	recs, err := s.store.ListRecords(ctx, TicketsCollection, q)
	if err != nil {
		return nil, err
	}
	out := make([]Ticket, 0, len(recs))
	for _, r := range recs {
		out = append(out, ticketFrom(r))
	}
	return out, nil
}

func ticketFrom(r domain.Record) Ticket {
	return Ticket{
		ID:          r.ID,
		UserID:      r.String("user_id"),
		Subject:     r.String("subject"),
		Description: r.String("description"),
		Status:      r.String("status"),
		Priority:    r.String("priority"),
		Escalated:   r.Bool("escalated"),
		CreatedAt:   r.Time("opened_at"),
	}
}

var (
	statusEmoji   = map[string]string{StatusOpen: "🔵", StatusInProgress: "🟡", StatusResolved: "🟢", StatusClosed: "⚫"}
	statusLabel   = map[string]string{StatusOpen: "Ouvert", StatusInProgress: "En cours", StatusResolved: "Résolu", StatusClosed: "Fermé"}
	priorityEmoji = map[string]string{PriorityLow: "⬇️", PriorityMedium: "➡️", PriorityHigh: "⬆️", PriorityUrgent: "🚨"}
	priorityLabel = map[string]string{PriorityLow: "Faible", PriorityMedium: "Moyenne", PriorityHigh: "Élevée", PriorityUrgent: "Urgente"}
	projectLabel  = map[string]string{
		ProjectPlanning:   "📋 Planification",
		ProjectInProgress: "🚀 En cours",
		ProjectTesting:    "🧪 En test",
		ProjectCompleted:  "✅ Terminé",
		ProjectOnHold:     "⏸️ En pause",
	}
)

func label(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

// FormatTicket renders a ticket card for WhatsApp.
func FormatTicket(t Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Ticket %s*\n━━━━━━━━━━━━━━\n", t.Subject)
	fmt.Fprintf(&b, "%s Statut: %s\n", statusEmoji[t.Status], label(statusLabel, t.Status))
	fmt.Fprintf(&b, "%s Priorité: %s\n", priorityEmoji[t.Priority], label(priorityLabel, t.Priority))
	fmt.Fprintf(&b, "📅 Créé le: %s\n", t.CreatedAt.Format("02/01/2006"))
	if t.Escalated {
		b.WriteString("⚠️ *Escaladé à un humain*\n")
	}
	fmt.Fprintf(&b, "\n📝 Description:\n%s", t.Description)
	return b.String()
}

// CreateProject starts a project in the planning state.
func (s *Service) CreateProject(ctx context.Context, userID, name, description string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("project name is empty")
	}
	rec, err := s.store.CreateRecord(ctx, ProjectsCollection, map[string]any{
		"user_id":     userID,
		"name":        name,
		"description": description,
		"status":      ProjectPlanning,
		"progress":    0,
		"started_at":  s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	p := projectFrom(*rec)
	s.logger.Info("project created", "id", p.ID, "user", userID)
	return &p, nil
}

// UserProjects returns the most recent projects of userID.
func (s *Service) UserProjects(ctx context.Context, userID string) ([]Project, error) {
	q := domain.Where("user_id", userID)
	q.OrderBy, q.Desc, q.Limit = "created_at", true, listLimit
	recs, err := s.store.ListRecords(ctx, ProjectsCollection, q)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(recs))
	for _, r := range recs {
		out = append(out, projectFrom(r))
	}
	return out, nil
}

func projectFrom(r domain.Record) Project {
	return Project{
		ID:          r.ID,
		UserID:      r.String("user_id"),
		Name:        r.String("name"),
		Description: r.String("description"),
		Status:      r.String("status"),
		Progress:    int(r.Int("progress")),
		StartedAt:   r.Time("started_at"),
		EndedAt:     r.Time("ended_at"),
	}
}

// ProjectStatus is the French label of a project status.
func ProjectStatus(status string) string { return label(projectLabel, status) }

// ProgressBar draws progress (0-100) on ten cells.
func ProgressBar(progress int) string {
	filled := min(max((progress+5)/10, 0), 10)
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

// FormatProject renders the project summary shown by /projects.
func FormatProject(p Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Projet: %s*\n━━━━━━━━━━━━━━\n", p.Name)
	fmt.Fprintf(&b, "📈 Progression: %s %d%%\n", ProgressBar(p.Progress), p.Progress)
	fmt.Fprintf(&b, "🚦 Statut: %s\n", ProjectStatus(p.Status))
	fmt.Fprintf(&b, "📅 Démarré: %s\n", p.StartedAt.Format("02/01/2006"))
	if !p.EndedAt.IsZero() {
		fmt.Fprintf(&b, "✅ Terminé: %s\n", p.EndedAt.Format("02/01/2006"))
	}
	fmt.Fprintf(&b, "\n📝 *Description:*\n%s", p.Description)
	return b.String()
}
