package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"jarvis/internal/admin"
	"jarvis/internal/config"
	"jarvis/internal/delivery"
	"jarvis/internal/domain"
	"jarvis/internal/knowledge"
	"jarvis/internal/memory"
	"jarvis/internal/scheduler"
	"jarvis/internal/support"
)

const separator = "━━━━━━━━━━━━━━"

// ChatCommand is a parsed slash command.
type ChatCommand struct {
	Name string   // lower-cased, without "/"
	Args []string // words after the command
	Raw  string
}

// ParseCommand returns nil when text is not a slash command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: name, Args: parts[1:], Raw: text}
}

// arg returns the i-th argument or "".
func (c *ChatCommand) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// rest joins the arguments from i on.
func (c *ChatCommand) rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// CommandRequest is what a command handler knows about the message.
type CommandRequest struct {
	Command *ChatCommand
	UserID  string
	ReplyTo string
	Context *domain.ChatContext
	IsAdmin bool
}

// CommandHandler answers one slash command. Failures are reported in the
// returned text; the dispatcher only delivers it.
type CommandHandler func(ctx context.Context, req CommandRequest) string

// CommandRouter maps command names to handlers. /admin has its own map of
// subcommands, see admin_commands.go.
type CommandRouter struct {
	commands map[string]CommandHandler
	admin    map[string]CommandHandler

	conversations *memory.Conversations
	admins        *admin.Service
	scheduler     *scheduler.Scheduler
	documents     *knowledge.Engine
	support       *support.Service
	delivery      *delivery.Channel
	health        HealthChecks
	business      config.BusinessConfig
	loc           *time.Location
	model         string
	typingDelay   time.Duration
	pacer         *RateLimiter
	now           func() time.Time
	logger        *slog.Logger
}

// HealthChecks report on the external services shown by /admin health.
// Either may be nil.
type HealthChecks struct {
	Provider  func(ctx context.Context) error
	Connected func() bool
}

type CommandRouterConfig struct {
	Conversations *memory.Conversations
	Admin         *admin.Service
	Scheduler     *scheduler.Scheduler
	Documents     *knowledge.Engine // nil disables /doc
	Support       *support.Service
	Delivery      *delivery.Channel // used by /admin send and broadcast
	Health        HealthChecks
	Business      config.BusinessConfig
	Model         string
	TypingDelay   time.Duration
	Pacer         *RateLimiter // default: 5 at once then 20 per minute
	Now           func() time.Time
	Logger        *slog.Logger
}

func NewCommandRouter(cfg CommandRouterConfig) *CommandRouter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pacer == nil {
		cfg.Pacer = NewRateLimiter(5, 20)
	}
	r := &CommandRouter{
		conversations: cfg.Conversations,
		admins:        cfg.Admin,
		scheduler:     cfg.Scheduler,
		documents:     cfg.Documents,
		support:       cfg.Support,
		delivery:      cfg.Delivery,
		health:        cfg.Health,
		business:      cfg.Business,
		loc:           cfg.Business.Location(),
		model:         cfg.Model,
		typingDelay:   cfg.TypingDelay,
		pacer:         cfg.Pacer,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	r.commands = map[string]CommandHandler{
		"help":      r.help,
		"clear":     r.clear,
		"info":      r.info,
		"ticket":    r.ticket,
		"tickets":   r.tickets,
		"project":   r.project,
		"projects":  r.projects,
		"remind":    r.remind,
		"reminders": r.reminders,
		"schedule":  r.schedule,
		"doc":       r.doc,
		"human":     r.human,
		"admin":     r.adminCommand,
	}
	r.admin = r.adminCommands()
	return r
}

// Lookup returns the handler of a known command.
func (r *CommandRouter) Lookup(name string) (CommandHandler, bool) {
	h, ok := r.commands[name]
	return h, ok
}

// Names lists the registered commands, sorted.
func (r *CommandRouter) Names() []string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *CommandRouter) openNow(t time.Time) bool {
	t = t.In(r.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return t.Hour() >= r.business.OpenHour && t.Hour() < r.business.CloseHour
}

func (r *CommandRouter) help(ctx context.Context, req CommandRequest) string {
	now := r.now()
	status := "🔴 Hors heures ouvrables"
	if r.openNow(now) {
		status = "🟢 Heures ouvrables"
	}
	return fmt.Sprintf("🤖 *Jarvis - Assistant %s*\n%s\n🕐 Heure Abidjan: %s\n%s\n\n", r.business.Company, separator, now.In(r.loc).Format("15:04"), status) +
		"📋 *Commandes disponibles:*\n\n" +
		"/help - Afficher cette aide\n" +
		"/ticket [description] - Créer un ticket support\n" +
		"/tickets - Voir vos tickets\n" +
		"/project [nom] - Créer un projet\n" +
		"/projects - Voir vos projets\n" +
		"/remind [temps] [message] - Créer un rappel\n" +
		"/reminders - Voir vos rappels\n" +
		"/schedule - Programmer un message\n" +
		"/doc - Gérer vos documents\n" +
		"/human - Demander assistance humaine\n" +
		"/clear - Effacer l'historique\n" +
		"/info - Informations conversation\n\n" +
		"💡 *Exemple:* /ticket J'ai besoin d'aide avec mon chatbot"
}

func (r *CommandRouter) clear(ctx context.Context, req CommandRequest) string {
	if err := r.conversations.Clear(ctx, req.UserID); err != nil {
		r.logger.Error("clear conversation failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de l'effacement de l'historique."
	}
	return "🧹 *Historique effacé*\n\nNotre conversation a été réinitialisée.\nJe suis prêt pour un nouveau départ!"
}

func (r *CommandRouter) info(ctx context.Context, req CommandRequest) string {
	n, convID := 0, ""
	if req.Context != nil {
		n, convID = len(req.Context.History), req.Context.ConversationID
	}
	return fmt.Sprintf("ℹ️ *Informations de conversation*\n%s\n📱 Téléphone: %s\n💬 Messages en mémoire: %d/%d\n🆔 ID conversation: %s\n\n_Je suis Jarvis, votre assistant %s_",
		separator, admin.Phone(req.UserID), n, r.conversations.MaxHistory(), convID, r.business.Company)
}

func (r *CommandRouter) ticket(ctx context.Context, req CommandRequest) string {
	description := req.Command.rest(0)
	if description == "" {
		return "❌ Veuillez décrire votre problème.\n\n💡 Exemple: /ticket Mon chatbot ne répond plus"
	}
	t, err := r.support.CreateTicket(ctx, req.UserID, "Support Request", description, "", false)
	if err != nil {
		r.logger.Error("create ticket failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la création du ticket. Veuillez réessayer."
	}
	return support.FormatTicket(*t) + "\n\n✅ Votre demande a été enregistrée.\n📱 Un membre de l'équipe vous contactera bientôt."
}

func (r *CommandRouter) tickets(ctx context.Context, req CommandRequest) string {
	list, err := r.support.UserTickets(ctx, req.UserID)
	if err != nil {
		r.logger.Error("list tickets failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la récupération des tickets."
	}
	if len(list) == 0 {
		return "📭 Vous n'avez aucun ticket."
	}
	var b strings.Builder
	b.WriteString("📋 *Vos tickets récents:*\n" + separator + "\n\n")
	for _, t := range list {
		b.WriteString(support.FormatTicket(t) + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) project(ctx context.Context, req CommandRequest) string {
	name := req.Command.rest(0)
	if name == "" {
		return "❌ Veuillez fournir un nom de projet.\n\n💡 Exemple: /project Refonte site web"
	}
	p, err := r.support.CreateProject(ctx, req.UserID, name, "Projet créé via WhatsApp - En attente de description détaillée")
	if err != nil {
		r.logger.Error("create project failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la création du projet."
	}
	return fmt.Sprintf("✅ *Projet créé avec succès!*\n%s\n📁 Nom: %s\n🆔 ID: %s\n🚦 Statut: Planification\n\n", separator, p.Name, scheduler.ShortID(p.ID)) +
		"Je peux vous aider à définir les jalons de ce projet.\nUtilisez /projects pour voir tous vos projets."
}

func (r *CommandRouter) projects(ctx context.Context, req CommandRequest) string {
	list, err := r.support.UserProjects(ctx, req.UserID)
	if err != nil {
		r.logger.Error("list projects failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la récupération des projets."
	}
	if len(list) == 0 {
		return "📭 Vous n'avez aucun projet actif."
	}
	var b strings.Builder
	b.WriteString("📊 *Vos projets actifs:*\n" + separator + "\n\n")
	for _, p := range list {
		b.WriteString(support.FormatProject(p) + "\n\n" + separator + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) human(ctx context.Context, req CommandRequest) string {
	t, err := r.support.CreateTicket(ctx, req.UserID, "Demande d'assistance humaine",
		"Le client a demandé à parler à un humain", support.PriorityUrgent, true)
	if err != nil {
		r.logger.Error("human escalation failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de l'escalade. Appelez directement le support."
	}
	r.notifyAdmins(ctx, req.UserID, fmt.Sprintf("🤝 %s demande un humain (ticket %s)", admin.Phone(req.UserID), t.Subject))
	return "🤝 *Escalade vers un humain*\n" + separator + "\n\n" + support.FormatTicket(*t) + "\n\n" +
		fmt.Sprintf("🕑 Un membre de l'équipe %s vous contactera très bientôt.\n", r.business.Company) +
		fmt.Sprintf("📍 Heures d'ouverture: Lun-Ven %dh-%dh (GMT)", r.business.OpenHour, r.business.CloseHour)
}

// notifyAdmins sends text to every admin except from. Failures are logged.
func (r *CommandRouter) notifyAdmins(ctx context.Context, from, text string) {
	if r.delivery == nil {
		return
	}
	admins, err := r.admins.Admins(ctx)
	if err != nil {
		r.logger.Error("load admins failed", "err", err)
		return
	}
	for _, phone := range admins {
		if phone == admin.Phone(from) {
			continue
		}
		if err := r.delivery.SendSingle(ctx, phone, text); err != nil {
			r.logger.Warn("admin notification failed", "admin", phone, "err", err)
		}
	}
}

func (r *CommandRouter) remind(ctx context.Context, req CommandRequest) string {
	if len(req.Command.Args) < 2 {
		return "❌ Usage: /remind [temps] [message]\n\n💡 Exemples:\n• /remind 2h Vérifier les emails\n• /remind 30m Appeler client\n• /remind 1d Livraison projet"
	}
	d, err := scheduler.ParseDuration(req.Command.arg(0))
	if err != nil {
		return "❌ Format de temps non reconnu.\nUtilisez: 15m, 2h, 1d, etc."
	}
	rem, err := r.scheduler.CreateReminder(ctx, req.UserID, req.ReplyTo, req.Command.rest(1), r.now().Add(d), "")
	if err != nil {
		r.logger.Error("create reminder failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la création du rappel."
	}
	return scheduler.FormatReminder(*rem, r.loc) + "\n\n✅ Je vous enverrai un rappel sur WhatsApp!"
}

func (r *CommandRouter) reminders(ctx context.Context, req CommandRequest) string {
	if req.Command.arg(0) == "cancel" {
		if req.Command.arg(1) == "" {
			return "❌ Usage: /reminders cancel [id]"
		}
		if _, err := r.scheduler.CancelReminder(ctx, req.UserID, req.Command.arg(1)); err != nil {
			return "❌ Rappel introuvable."
		}
		return "✅ Rappel annulé."
	}
	list, err := r.scheduler.Reminders(ctx, req.UserID)
	if err != nil {
		r.logger.Error("list reminders failed", "user", req.UserID, "err", err)
		return "❌ Erreur lors de la récupération des rappels."
	}
	if len(list) == 0 {
		return "📭 Vous n'avez aucun rappel actif."
	}
	var b strings.Builder
	b.WriteString("🔔 *Vos rappels actifs:*\n" + separator + "\n\n")
	for _, rem := range list[:min(len(list), 5)] {
		b.WriteString(scheduler.FormatReminder(rem, r.loc) + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

const scheduleHelp = `📅 *Commandes de messages programmés*

*Programmer un message:*
• /schedule add [date/heure] [message]
• /schedule dans 2 heures Rappel de la réunion
• /schedule demain 10h30 Bonjour, n'oubliez pas notre RDV
• /schedule 25/12/2026 08:00 Joyeux Noël ! 🎄

*Formats de date acceptés:*
• dans X minutes/heures/jours
• demain [heure]
• DD/MM/YYYY HH:mm
• HH:mm (pour aujourd'hui ou demain)

*Autres commandes:*
• /schedule list - Voir vos messages programmés
• /schedule cancel [ID] - Annuler un message programmé`

func (r *CommandRouter) schedule(ctx context.Context, req CommandRequest) string {
	args := req.Command.Args
	switch strings.ToLower(req.Command.arg(0)) {
	case "", "help":
		return scheduleHelp
	case "add", "new":
		return r.scheduleAdd(ctx, req, args[1:])
	case "list", "liste":
		return r.scheduleList(ctx, req)
	case "cancel", "annuler":
		return r.scheduleCancel(ctx, req, req.Command.arg(1))
	default:
		return r.scheduleAdd(ctx, req, args)
	}
}

func (r *CommandRouter) scheduleAdd(ctx context.Context, req CommandRequest, args []string) string {
	if len(args) < 2 {
		return "❌ Format incorrect. Utilisez: /schedule [date/heure] [message]\n\nExemple: /schedule dans 1 heure Rappel important"
	}
	due, rest, ok := scheduler.ParseScheduleTime(args, r.now(), r.loc)
	if !ok {
		return fmt.Sprintf("❌ Format de date invalide: \"%s\"\n\nUtilisez un format comme:\n• dans 30 minutes\n• demain 10h\n• 25/12/2026 15:30", strings.Join(args[:min(len(args), 3)], " "))
	}
	text := strings.TrimSpace(strings.Join(rest, " "))
	if text == "" {
		return "❌ Veuillez spécifier un message à envoyer"
	}
	if !due.After(r.now()) {
		return "❌ La date doit être dans le futur"
	}
	m, err := r.scheduler.ScheduleMessage(ctx, req.UserID, req.ReplyTo, text, due)
	if err != nil {
		r.logger.Error("schedule message failed", "user", req.UserID, "err", err)
		return "❌ Une erreur est survenue lors de la programmation du message"
	}
	id := scheduler.ShortID(m.ID)
	return fmt.Sprintf("✅ Message programmé avec succès!\n\n📅 *Date d'envoi:* %s\n💬 *Message:* %s\n🆔 *ID:* %s\n\n_Pour annuler: /schedule cancel %s_",
		scheduler.FormatDateTime(due.In(r.loc)), text, id, id)
}

func (r *CommandRouter) scheduleList(ctx context.Context, req CommandRequest) string {
	list, err := r.scheduler.ScheduledMessages(ctx, req.UserID)
	if err != nil {
		r.logger.Error("list scheduled messages failed", "user", req.UserID, "err", err)
		return "❌ Une erreur est survenue lors de la récupération des messages programmés"
	}
	if len(list) == 0 {
		return "📭 Vous n'avez aucun message programmé"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📅 *Vos messages programmés (%d):*\n", len(list))
	for i, m := range list {
		fmt.Fprintf(&b, "\n%d. 📝 %s\n   📅 %s\n   🆔 ID: %s\n", i+1, truncate(m.Message, 50), scheduler.FormatDateTime(m.DueAt.In(r.loc)), scheduler.ShortID(m.ID))
	}
	b.WriteString("\n_Pour annuler un message, utilisez: /schedule cancel [ID]_")
	return b.String()
}

func (r *CommandRouter) scheduleCancel(ctx context.Context, req CommandRequest, id string) string {
	if id == "" {
		return "❌ Veuillez spécifier l'ID du message à annuler\n\nExemple: /schedule cancel 1a2b3c4d"
	}
	if _, err := r.scheduler.CancelMessage(ctx, req.UserID, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("cancel scheduled message failed", "user", req.UserID, "err", err)
		}
		return "❌ Impossible d'annuler ce message. Vérifiez l'ID ou le message a peut-être déjà été envoyé."
	}
	return fmt.Sprintf("✅ Message programmé annulé avec succès!\n\n🆔 ID: %s", id)
}

const docHelp = `📄 *Commandes Documents:*
━━━━━━━━━━━━━━

• /doc list - Voir vos documents
• /doc delete [id] - Supprimer un document
• /doc query [question] - Poser une question
• /doc search [terme] - Rechercher dans les documents
• /doc summary - Résumé de tous vos documents
• /doc info [id] - Détails d'un document

📎 Envoyez-moi directement un fichier TXT, CSV, Markdown ou JSON pour l'analyser!`

func (r *CommandRouter) doc(ctx context.Context, req CommandRequest) string {
	if r.documents == nil {
		return "📄 La gestion des documents est désactivée."
	}
	cmd := req.Command
	switch strings.ToLower(cmd.arg(0)) {
	case "list":
		docs, err := r.documents.List(ctx, req.UserID)
		if err != nil {
			r.logger.Error("list documents failed", "user", req.UserID, "err", err)
			return "❌ Erreur lors de la récupération des documents."
		}
		if len(docs) == 0 {
			return "📭 Vous n'avez aucun document.\n\nEnvoyez-moi un fichier texte, CSV ou JSON pour commencer!"
		}
		var b strings.Builder
		b.WriteString("📄 *Vos documents:*\n" + separator + "\n\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "📎 *%s*\n   ID: %s\n   Taille: %s\n   Date: %s\n\n",
				d.Name, scheduler.ShortID(d.ID), humanize.Bytes(uint64(d.Size)), d.CreatedAt.In(r.loc).Format("02/01/2006"))
		}
		return strings.TrimRight(b.String(), "\n")

	case "delete":
		if cmd.arg(1) == "" {
			return "❌ Usage: /doc delete [id]"
		}
		d, err := r.findDocument(ctx, req.UserID, cmd.arg(1))
		if err == nil {
			err = r.documents.Delete(ctx, req.UserID, d.ID)
		}
		if err != nil {
			return "❌ Document non trouvé ou erreur lors de la suppression."
		}
		return "✅ Document supprimé avec succès!"

	case "query":
		question := cmd.rest(1)
		if question == "" {
			return "❌ Usage: /doc query [votre question]"
		}
		answer, err := r.documents.Query(ctx, req.UserID, question)
		if errors.Is(err, knowledge.ErrNoMatch) {
			return "🔍 Je n'ai trouvé aucune information pertinente dans vos documents."
		}
		if err != nil {
			r.logger.Error("document query failed", "user", req.UserID, "err", err)
			return "❌ Erreur lors de la recherche dans les documents."
		}
		return answer

	case "search":
		term := cmd.rest(1)
		if term == "" {
			return "❌ Usage: /doc search [terme de recherche]"
		}
		matches, err := r.documents.Search(ctx, req.UserID, term)
		if err != nil {
			r.logger.Error("document search failed", "user", req.UserID, "err", err)
			return "❌ Erreur lors de la recherche dans les documents."
		}
		if len(matches) == 0 {
			return fmt.Sprintf("🔍 Aucun résultat pour \"%s\".", term)
		}
		return knowledge.BuildContext(matches)

	case "summary":
		summary, err := r.documents.Summary(ctx, req.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return "📭 Vous n'avez aucun document."
		}
		if err != nil {
			r.logger.Error("document summary failed", "user", req.UserID, "err", err)
			return "❌ Erreur lors de la création du résumé."
		}
		return summary

	case "info":
		if cmd.arg(1) == "" {
			return "❌ Usage: /doc info [id]"
		}
		d, err := r.findDocument(ctx, req.UserID, cmd.arg(1))
		if err != nil {
			return "❌ Document non trouvé."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "📄 *Informations du document:*\n%s\n\n📎 Nom: %s\n🆔 ID: %s\n📊 Taille: %s\n🏷️ Type: %s\n📅 Uploadé: %s\n🧩 Extraits indexés: %d\n",
			separator, d.Name, d.ID, humanize.Bytes(uint64(d.Size)), d.MimeType, scheduler.FormatDateTime(d.CreatedAt.In(r.loc)), d.ChunkCount)
		if d.Summary != "" {
			fmt.Fprintf(&b, "\n📝 *Extrait du contenu:*\n%s\n\n💡 Utilisez /doc query [question] pour interroger ce document.", truncate(d.Summary, 300))
		} else {
			b.WriteString("\n⚠️ Le contenu n'a pas encore été extrait.")
		}
		return b.String()
	}
	return docHelp
}

// findDocument resolves a full id or the short prefix shown by /doc list.
func (r *CommandRouter) findDocument(ctx context.Context, userID, id string) (*domain.UserDocument, error) {
	docs, err := r.documents.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID == id || (len(id) >= 4 && strings.HasPrefix(d.ID, id)) {
			return &d, nil
		}
	}
	return nil, domain.ErrNotFound
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
