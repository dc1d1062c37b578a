package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"jarvis/internal/domain"
)

const (
	NotesCollection = "user_notes"
	ListsCollection = "user_lists"
)

var (
	noteSaveRe   = regexp.MustCompile(`(?i)note\s+que\s+(?:le\s+|la\s+|les\s+)?(.+?)\s+(?:est|sont|c'est)\s+(.+)`)
	noteGetRe    = regexp.MustCompile(`(?i)(?:qu'est[- ]ce que|c'est quoi|quel est)\s+(?:le\s+|la\s+)?(.+?)\s*\?`)
	noteListRe   = regexp.MustCompile(`(?i)(?:montre|affiche|liste)\s+mes\s+notes`)
	noteDeleteRe = regexp.MustCompile(`(?i)(?:supprime|efface|oublie)\s+(?:la note sur|le|la)\s+(.+)`)

	listAddRe    = regexp.MustCompile(`(?i)ajoute\s+(.+?)\s+(?:à|dans)\s+(?:ma\s+)?liste\s+(?:de\s+)?(.+)`)
	listGetRe    = regexp.MustCompile(`(?i)(?:montre|affiche|qu'est[- ]ce qu'il y a dans)\s+(?:ma\s+)?liste\s+(?:de\s+)?(.+)`)
	listClearRe  = regexp.MustCompile(`(?i)(?:efface|vide|supprime)\s+(?:ma\s+)?liste\s+(?:de\s+)?(.+)`)
	listRemoveRe = regexp.MustCompile(`(?i)(?:retire|enlève|supprime)\s+(.+?)\s+de\s+(?:ma\s+)?liste\s+(?:de\s+)?(.+)`)
	listAllRe    = regexp.MustCompile(`(?i)mes\s+listes`)
)

// Notes keeps per-user key/value notes and named lists.
type Notes struct {
	store  domain.DocumentStore
	logger *slog.Logger
}

func NewNotes(store domain.DocumentStore, logger *slog.Logger) *Notes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notes{store: store, logger: logger}
}

func clean(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "?!."))
}

// HandleNote answers "note que X est Y", "c'est quoi X ?", "montre mes notes"
// and "oublie X". Lookups and deletions of unknown keys do not match, so the
// question can still reach the assistant.
func (n *Notes) HandleNote(ctx context.Context, userID, text string) (string, bool) {
	if m := noteSaveRe.FindStringSubmatch(text); m != nil {
		key, value := clean(m[1]), clean(m[2])
		if err := n.SaveNote(ctx, userID, key, value); err != nil {
			n.logger.Error("save note failed", "user", userID, "err", err)
			return "❌ Erreur lors de l'enregistrement de la note", true
		}
		return fmt.Sprintf("📝 J'ai noté que %s est %s", key, value), true
	}

	if m := noteGetRe.FindStringSubmatch(text); m != nil {
		key := clean(m[1])
		value, err := n.GetNote(ctx, userID, key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				n.logger.Error("get note failed", "user", userID, "err", err)
			}
			return "", false
		}
		return fmt.Sprintf("📝 %s : %s", key, value), true
	}

	if noteListRe.MatchString(text) {
		notes, err := n.store.ListRecords(ctx, NotesCollection, domain.Query{
			Filters: []domain.Filter{{Field: "user_id", Op: "=", Value: userID}},
			OrderBy: "updated_at",
			Desc:    true,
			Limit:   100,
		})
		if err != nil {
			n.logger.Error("list notes failed", "user", userID, "err", err)
			return "❌ Erreur lors de la récupération des notes", true
		}
		if len(notes) == 0 {
			return "📝 Vous n'avez aucune note enregistrée", true
		}
		var b strings.Builder
		b.WriteString("📝 *Vos notes :*\n")
		for _, rec := range notes {
			fmt.Fprintf(&b, "• %s : %s\n", rec.String("key"), rec.String("value"))
		}
		return b.String(), true
	}

	if m := noteDeleteRe.FindStringSubmatch(text); m != nil {
		key := clean(m[1])
		rec, err := n.findNote(ctx, userID, key)
		if err != nil {
			return "", false
		}
		if err := n.store.DeleteRecord(ctx, NotesCollection, rec.ID); err != nil {
			n.logger.Error("delete note failed", "user", userID, "err", err)
			return "❌ Erreur lors de la suppression de la note", true
		}
		return fmt.Sprintf("🗑️ Note sur \"%s\" supprimée", key), true
	}
	return "", false
}

func (n *Notes) findNote(ctx context.Context, userID, key string) (*domain.Record, error) {
	recs, err := n.store.ListRecords(ctx, NotesCollection,
		domain.Where("user_id", userID).And("key", strings.ToLower(key)))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &recs[0], nil
}

// SaveNote creates or overwrites the note stored under key.
func (n *Notes) SaveNote(ctx context.Context, userID, key, value string) error {
	rec, err := n.findNote(ctx, userID, key)
	switch {
	case err == nil:
		_, err = n.store.UpdateRecord(ctx, NotesCollection, rec.ID, map[string]any{"value": value})
		return err
	case errors.Is(err, domain.ErrNotFound):
		_, err = n.store.CreateRecord(ctx, NotesCollection, map[string]any{
			"user_id": userID,
			"key":     strings.ToLower(key),
			"value":   value,
		})
		return err
	default:
		return err
	}
}

// GetNote returns the note stored under key, or domain.ErrNotFound.
func (n *Notes) GetNote(ctx context.Context, userID, key string) (string, error) {
	rec, err := n.findNote(ctx, userID, key)
	if err != nil {
		return "", err
	}
	return rec.String("value"), nil
}

// HandleList answers add/show/clear/remove requests on named lists and
// "mes listes".
func (n *Notes) HandleList(ctx context.Context, userID, text string) (string, bool) {
	if m := listAddRe.FindStringSubmatch(text); m != nil {
		item, name := clean(m[1]), clean(m[2])
		if err := n.AddToList(ctx, userID, name, item); err != nil {
			n.logger.Error("add to list failed", "user", userID, "err", err)
			return "❌ Erreur lors de l'ajout à la liste", true
		}
		return fmt.Sprintf("✅ \"%s\" ajouté à votre liste de %s", item, name), true
	}

	if m := listGetRe.FindStringSubmatch(text); m != nil {
		name := clean(m[1])
		rec, err := n.findList(ctx, userID, name)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			n.logger.Error("get list failed", "user", userID, "err", err)
			return "❌ Erreur lors de la récupération de la liste", true
		}
		var items []string
		if rec != nil {
			items = listItems(rec)
		}
		if len(items) == 0 {
			return fmt.Sprintf("📋 Votre liste de %s est vide", name), true
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📋 *Liste de %s :*\n", name)
		for _, it := range items {
			fmt.Fprintf(&b, "• %s\n", it)
		}
		return b.String(), true
	}

	if m := listClearRe.FindStringSubmatch(text); m != nil {
		name := clean(m[1])
		rec, err := n.findList(ctx, userID, name)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("❓ Aucune liste de %s trouvée", name), true
		}
		if err == nil {
			_, err = n.store.UpdateRecord(ctx, ListsCollection, rec.ID, map[string]any{"items": []string{}})
		}
		if err != nil {
			n.logger.Error("clear list failed", "user", userID, "err", err)
			return "❌ Erreur lors de la mise à jour de la liste", true
		}
		return fmt.Sprintf("🗑️ Liste de %s vidée", name), true
	}

	if m := listRemoveRe.FindStringSubmatch(text); m != nil {
		item, name := clean(m[1]), clean(m[2])
		removed, err := n.RemoveFromList(ctx, userID, name, item)
		if err != nil {
			n.logger.Error("remove from list failed", "user", userID, "err", err)
			return "❌ Erreur lors de la mise à jour de la liste", true
		}
		if !removed {
			return fmt.Sprintf("❓ \"%s\" n'est pas dans votre liste de %s", item, name), true
		}
		return fmt.Sprintf("✅ \"%s\" retiré de votre liste de %s", item, name), true
	}

	if listAllRe.MatchString(text) {
		lists, err := n.store.ListRecords(ctx, ListsCollection, domain.Query{
			Filters: []domain.Filter{{Field: "user_id", Op: "=", Value: userID}},
			OrderBy: "updated_at",
			Desc:    true,
			Limit:   100,
		})
		if err != nil {
			n.logger.Error("list lists failed", "user", userID, "err", err)
			return "❌ Erreur lors de la récupération des listes", true
		}
		if len(lists) == 0 {
			return "📋 Vous n'avez aucune liste", true
		}
		var b strings.Builder
		b.WriteString("📋 *Vos listes :*\n")
		for _, rec := range lists {
			count := len(listItems(&rec))
			plural := ""
			if count > 1 {
				plural = "s"
			}
			fmt.Fprintf(&b, "• %s (%d élément%s)\n", rec.String("name"), count, plural)
		}
		return b.String(), true
	}
	return "", false
}

func (n *Notes) findList(ctx context.Context, userID, name string) (*domain.Record, error) {
	recs, err := n.store.ListRecords(ctx, ListsCollection,
		domain.Where("user_id", userID).And("name", strings.ToLower(name)))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &recs[0], nil
}

func listItems(rec *domain.Record) []string {
	raw, _ := rec.Data["items"].([]any)
	items := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			items = append(items, s)
		}
	}
	return items
}

// AddToList appends item to the named list, creating it when needed.
// Duplicates are ignored.
func (n *Notes) AddToList(ctx context.Context, userID, name, item string) error {
	rec, err := n.findList(ctx, userID, name)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = n.store.CreateRecord(ctx, ListsCollection, map[string]any{
			"user_id": userID,
			"name":    strings.ToLower(name),
			"items":   []string{item},
		})
		return err
	}
	if err != nil {
		return err
	}
	items := listItems(rec)
	for _, it := range items {
		if it == item {
			return nil
		}
	}
	_, err = n.store.UpdateRecord(ctx, ListsCollection, rec.ID, map[string]any{"items": append(items, item)})
	return err
}

// RemoveFromList drops item (case-insensitively) from the named list and
// reports whether anything was removed.
func (n *Notes) RemoveFromList(ctx context.Context, userID, name, item string) (bool, error) {
	rec, err := n.findList(ctx, userID, name)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	items := listItems(rec)
	kept := items[:0:0]
	for _, it := range items {
		if !strings.EqualFold(it, item) {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return false, nil
	}
	_, err = n.store.UpdateRecord(ctx, ListsCollection, rec.ID, map[string]any{"items": kept})
	return err == nil, err
}
