package support

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"jarvis/internal/memory"
)

func testService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "support.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(Config{
		Store:  store,
		Now:    func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
		IntN:   func(int) int { return 42 },
		Logger: logger,
	})
}

func TestCreateTicket(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	tk, err := s.CreateTicket(ctx, "u1", "Support Request", "Mon chatbot ne répond plus", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Subject != "#26100042 - Support Request" || tk.Status != StatusOpen || tk.Priority != PriorityMedium {
		t.Fatalf("unexpected ticket %+v", tk)
	}

	card := FormatTicket(*tk)
	for _, want := range []string{"*Ticket #26100042 - Support Request*", "🔵 Statut: Ouvert", "➡️ Priorité: Moyenne", "📅 Créé le: 19/10/2026", "Mon chatbot ne répond plus"} {
		if !strings.Contains(card, want) {
			t.Fatalf("card missing %q:\n%s", want, card)
		}
	}
	if strings.Contains(card, "Escaladé") {
		t.Fatal("non-escalated ticket shows the escalation line")
	}

	if _, err := s.CreateTicket(ctx, "u1", "x", "  ", "", false); err == nil {
		t.Fatal("expected an error for an empty description")
	}
}

func TestUserTickets_NewestFirstAndScoped(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	for _, d := range []string{"premier", "second"} {
		if _, err := s.CreateTicket(ctx, "u1", "Support Request", d, "", false); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateTicket(ctx, "u2", "Demande d'assistance humaine", "aide", PriorityUrgent, true); err != nil {
		t.Fatal(err)
	}

	list, err := s.UserTickets(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Description != "second" {
		t.Fatalf("unexpected tickets %+v", list)
	}

	other, _ := s.UserTickets(ctx, "u2")
	if len(other) != 1 || !other[0].Escalated || !strings.Contains(FormatTicket(other[0]), "🚨 Priorité: Urgente") {
		t.Fatalf("unexpected escalated ticket %+v", other)
	}
}

func TestProjects(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "u1", "Refonte site web", "En attente de description")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != ProjectPlanning || p.Progress != 0 {
		t.Fatalf("unexpected project %+v", p)
	}

	list, err := s.UserProjects(ctx, "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("UserProjects = %v, %v", list, err)
	}
	summary := FormatProject(list[0])
	if !strings.Contains(summary, "📊 *Projet: Refonte site web*") || !strings.Contains(summary, "📋 Planification") {
		t.Fatalf("unexpected summary:\n%s", summary)
	}
	if _, err := s.CreateProject(ctx, "u1", "", ""); err == nil {
		t.Fatal("expected an error for an empty name")
	}
}

func TestProgressBar(t *testing.T) {
	cases := map[int]string{0: "░░░░░░░░░░", 50: "█████░░░░░", 100: "██████████", 120: "██████████"}
	for in, want := range cases {
		if got := ProgressBar(in); got != want {
			t.Fatalf("ProgressBar(%d) = %q, want %q", in, got, want)
		}
	}
}
