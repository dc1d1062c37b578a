package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"jarvis/internal/admin"
	"jarvis/internal/domain"
	"jarvis/internal/metrics"
	"jarvis/internal/scheduler"
)

const adminBadge = "👑 *[Message Admin]*\n" + separator + "\n\n"

const adminHelp = `👑 *Commandes Administrateur*
━━━━━━━━━━━━━━

*🔧 Maintenance:*
• /admin status - État du bot
• /admin health - Santé des services
• /admin mode [normal|maintenance|readonly]

*👥 Utilisateurs:*
• /admin users - Utilisateurs actifs
• /admin block [phone] [raison]
• /admin unblock [phone]
• /admin limit [phone] [messages/jour]
• /admin blacklist - Liste noire
• /admin limits - Limites définies

*💾 Données:*
• /admin backup - Créer un backup
• /admin backups - Lister les backups
• /admin clear [phone|all]
• /admin export [phone]

*⚙️ Configuration:*
• /admin config [show|help|set key value]

*📊 Monitoring:*
• /admin stats [today|week|month]
• /admin audit - Journal des actions
• /admin debug [phone] - Logs détaillés (30 min)

*📨 Messagerie:*
• /admin send [phone] [message]
• /admin send-raw [phone] [message]
• /admin broadcast all [message]
• /admin schedule [quand] [phone] [message]
• /admin scheduled [list|cancel id]`

const configHelp = `⚙️ *Aide Configuration*
━━━━━━━━━━━━━━

*Clés disponibles:*
• typing_delay - Délai de frappe en ms (0-10000)
• max_history_length - Messages gardés en mémoire (1-100)
• ai_temperature - Créativité de l'IA (0.0-1.0)
• welcome_message - Message d'accueil
• error_message - Message d'erreur
• maintenance_message - Message de maintenance
• bot_name - Nom du bot
• bot_personality - Personnalité du bot

*Exemple:*
/admin config set typing_delay 2000`

// adminCommand guards the admin map: non-admins get a refusal, admins get
// the subcommand named by the first argument.
func (r *CommandRouter) adminCommand(ctx context.Context, req CommandRequest) string {
	if !req.IsAdmin {
		return "❌ Accès refusé. Cette commande est réservée aux administrateurs."
	}
	sub := strings.ToLower(req.Command.arg(0))
	if sub == "" {
		sub = "help"
	}
	h, ok := r.admin[sub]
	if !ok {
		return "❌ Commande admin inconnue. Tapez /admin help pour l'aide."
	}
	// Handlers see their own arguments from index 0.
	sreq := req
	sreq.Command = &ChatCommand{Name: sub, Args: req.Command.Args[min(1, len(req.Command.Args)):], Raw: req.Command.Raw}
	r.logger.Info("admin command", "admin", admin.Phone(req.UserID), "command", sub)
	return h(ctx, sreq)
}

func (r *CommandRouter) adminCommands() map[string]CommandHandler {
	return map[string]CommandHandler{
		"help":      func(context.Context, CommandRequest) string { return adminHelp },
		"status":    r.adminStatus,
		"health":    r.adminHealth,
		"mode":      r.adminMode,
		"users":     r.adminUsers,
		"block":     r.adminBlock,
		"unblock":   r.adminUnblock,
		"limit":     r.adminLimit,
		"blacklist": r.adminBlacklist,
		"limits":    r.adminLimits,
		"backup":    r.adminBackup,
		"backups":   r.adminBackups,
		"clear":     r.adminClear,
		"export":    r.adminExport,
		"config":    r.adminConfig,
		"stats":     r.adminStats,
		"audit":     r.adminAudit,
		"debug":     r.adminDebug,
		"send":      r.adminSend,
		"send-raw":  r.adminSend,
		"broadcast": r.adminBroadcast,
		"schedule":  r.adminSchedule,
		"scheduled": r.adminScheduled,
	}
}

const adminError = "❌ Erreur lors de l'exécution de la commande admin"

func (r *CommandRouter) failed(op string, err error) string {
	r.logger.Error("admin command failed", "command", op, "err", err)
	return adminError
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dj %dh %dm", days, hours, int(d.Minutes())%60)
}

// providerOK pings the LLM with a short deadline.
func (r *CommandRouter) providerOK(ctx context.Context) bool {
	if r.health.Provider == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.health.Provider(ctx); err != nil {
		r.logger.Warn("provider health check failed", "err", err)
		return false
	}
	return true
}

func (r *CommandRouter) connected() bool {
	return r.health.Connected != nil && r.health.Connected()
}

func mark(ok bool, yes, no string) string {
	if ok {
		return "✅ " + yes
	}
	return "❌ " + no
}

func (r *CommandRouter) adminStatus(ctx context.Context, req CommandRequest) string {
	stats, err := r.admins.Stats(ctx, r.loc)
	if err != nil {
		return r.failed("status", err)
	}
	return fmt.Sprintf("📊 *Status du Bot*\n%s\n⏱️ Uptime: %s\n👥 Conversations: %d\n💬 Messages total: %d\n📨 Messages aujourd'hui: %d\n🔧 Mode: %s\n\n*Connexions:*\n• LLM: %s\n• WhatsApp: %s",
		separator, formatUptime(metrics.Collector.Uptime()), stats.Conversations, stats.Messages, stats.MessagesToday,
		strings.ToUpper(string(r.admins.Mode())),
		mark(r.providerOK(ctx), "OK", "DOWN"), mark(r.connected(), "Connected", "Disconnected"))
}

func (r *CommandRouter) adminHealth(ctx context.Context, req CommandRequest) string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return fmt.Sprintf("🏥 *État de Santé du Bot*\n%s\n\n*Services:*\n• LLM (%s): %s\n• WhatsApp: %s\n\n*Système:*\n• RAM utilisée: %s\n• Goroutines: %d\n• Uptime: %s",
		separator, r.model, mark(r.providerOK(ctx), "OK", "DOWN"), mark(r.connected(), "Connecté", "Déconnecté"),
		humanize.Bytes(mem.Alloc), runtime.NumGoroutine(), formatUptime(metrics.Collector.Uptime()))
}

func (r *CommandRouter) adminMode(ctx context.Context, req CommandRequest) string {
	arg := strings.ToLower(req.Command.arg(0))
	if arg == "" {
		return "❌ Usage: /admin mode [normal|maintenance|readonly]"
	}
	mode := domain.BotMode(arg)
	if !mode.Valid() {
		return "❌ Mode invalide. Modes valides: normal, maintenance, readonly"
	}
	if err := r.admins.SetMode(ctx, mode, req.UserID); err != nil {
		return r.failed("mode", err)
	}
	out := fmt.Sprintf("✅ Mode changé en: %s\n\n", strings.ToUpper(arg))
	switch mode {
	case domain.ModeMaintenance:
		out += "⚠️ Seuls les admins peuvent utiliser le bot"
	case domain.ModeReadonly:
		out += "👁️ Le bot répond mais ne sauvegarde pas les messages"
	default:
		out += "✅ Le bot fonctionne normalement"
	}
	return out
}

// lastSeen renders activity as today, yesterday or N days ago.
func (r *CommandRouter) lastSeen(t time.Time) string {
	now := r.now().In(r.loc)
	y1, m1, d1 := now.Date()
	y2, m2, d2 := t.In(r.loc).Date()
	days := int(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC).Sub(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	switch {
	case days <= 0:
		return "Aujourd'hui"
	case days == 1:
		return "Hier"
	default:
		return fmt.Sprintf("Il y a %d jours", days)
	}
}

func (r *CommandRouter) adminUsers(ctx context.Context, req CommandRequest) string {
	users, err := r.admins.Users(ctx, 20)
	if err != nil {
		return r.failed("users", err)
	}
	if len(users) == 0 {
		return "📊 *Aucun utilisateur actif*"
	}
	var b strings.Builder
	b.WriteString("👥 *Utilisateurs Actifs*\n" + separator + "\n\n")
	for i, u := range users {
		fmt.Fprintf(&b, "%d. 📱 %s\n   💬 %d messages\n   🕐 %s\n\n", i+1, admin.Phone(u.UserID), u.Messages, r.lastSeen(u.LastActivity))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminBlock(ctx context.Context, req CommandRequest) string {
	phone := req.Command.arg(0)
	if phone == "" {
		return "❌ Usage: /admin block [phone] [reason]"
	}
	err := r.admins.Block(ctx, phone, req.Command.rest(1), req.UserID)
	switch {
	case errors.Is(err, admin.ErrAlreadyBlocked):
		return "⚠️ Cet utilisateur est déjà bloqué"
	case err != nil:
		return r.failed("block", err)
	}
	return fmt.Sprintf("✅ Utilisateur %s bloqué avec succès", admin.Phone(phone))
}

func (r *CommandRouter) adminUnblock(ctx context.Context, req CommandRequest) string {
	phone := req.Command.arg(0)
	if phone == "" {
		return "❌ Usage: /admin unblock [phone]"
	}
	err := r.admins.Unblock(ctx, phone, req.UserID)
	switch {
	case errors.Is(err, admin.ErrNotBlocked):
		return "⚠️ Cet utilisateur n'est pas bloqué"
	case err != nil:
		return r.failed("unblock", err)
	}
	return fmt.Sprintf("✅ Utilisateur %s débloqué avec succès", admin.Phone(phone))
}

func (r *CommandRouter) adminLimit(ctx context.Context, req CommandRequest) string {
	if len(req.Command.Args) < 2 {
		return "❌ Usage: /admin limit [phone] [messages/day]"
	}
	n, err := strconv.Atoi(req.Command.arg(1))
	if err != nil || n < 0 {
		return "❌ La limite doit être un nombre"
	}
	phone := admin.Phone(req.Command.arg(0))
	if err := r.admins.SetLimit(ctx, phone, n, req.UserID); err != nil {
		return r.failed("limit", err)
	}
	return fmt.Sprintf("✅ Limite de %d messages/jour définie pour %s", n, phone)
}

func (r *CommandRouter) adminBlacklist(ctx context.Context, req CommandRequest) string {
	list, err := r.admins.Blacklist(ctx)
	if err != nil {
		return r.failed("blacklist", err)
	}
	if len(list) == 0 {
		return "✅ *Aucun utilisateur bloqué*"
	}
	var b strings.Builder
	b.WriteString("🚫 *Liste Noire*\n" + separator + "\n\n")
	for i, e := range list {
		fmt.Fprintf(&b, "%d. 📱 %s\n   📅 Bloqué le: %s\n   👤 Par: %s\n   📝 Raison: %s\n\n",
			i+1, e.Phone, e.BlockedAt.In(r.loc).Format("02/01/2006"), e.BlockedBy, e.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminLimits(ctx context.Context, req CommandRequest) string {
	list, err := r.admins.Limits(ctx)
	if err != nil {
		return r.failed("limits", err)
	}
	if len(list) == 0 {
		return "✅ *Aucune limite définie*"
	}
	now := r.now()
	var b strings.Builder
	b.WriteString("⚡ *Limites Utilisateurs*\n" + separator + "\n\n")
	for i, l := range list {
		hours := max(0, int(l.ResetAt.Sub(now).Hours()))
		fmt.Fprintf(&b, "%d. 📱 %s\n   📊 %d/%d messages\n   ⏰ Reset dans %dh\n\n", i+1, l.Phone, l.Used, l.DailyLimit, hours)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminBackup(ctx context.Context, req CommandRequest) string {
	info, err := r.admins.Backup(ctx, req.UserID)
	if errors.Is(err, admin.ErrNoBackupDir) {
		return "❌ Aucun répertoire de backup configuré"
	}
	if err != nil {
		return r.failed("backup", err)
	}
	return fmt.Sprintf("✅ *Backup créé avec succès*\n📁 Fichier: %s\n💾 Taille: %s", info.Name, humanize.Bytes(uint64(info.Size)))
}

func (r *CommandRouter) adminBackups(ctx context.Context, req CommandRequest) string {
	list, err := r.admins.Backups()
	if err != nil && !errors.Is(err, admin.ErrNoBackupDir) {
		return r.failed("backups", err)
	}
	if len(list) == 0 {
		return "📁 *Aucun backup disponible*"
	}
	var b strings.Builder
	b.WriteString("📁 *Backups Disponibles*\n" + separator + "\n\n")
	for _, info := range list {
		fmt.Fprintf(&b, "📄 %s\n   💾 %s\n   📅 %s\n\n", info.Name, humanize.Bytes(uint64(info.Size)), scheduler.FormatDateTime(info.ModTime.In(r.loc)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminClear(ctx context.Context, req CommandRequest) string {
	target := req.Command.arg(0)
	if target == "" {
		return "❌ Usage: /admin clear [phone|all]"
	}
	if strings.EqualFold(target, "all") {
		convs, msgs, err := r.admins.ClearAll(ctx, req.UserID)
		if err != nil {
			return r.failed("clear", err)
		}
		return fmt.Sprintf("✅ *Toutes les données supprimées*\n🗑️ Conversations: %d\n🗑️ Messages: %d\n\n⚠️ Cette action est irréversible!", convs, msgs)
	}
	n, err := r.admins.ClearUser(ctx, target, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return "⚠️ Aucune conversation trouvée pour cet utilisateur"
	}
	if err != nil {
		return r.failed("clear", err)
	}
	return fmt.Sprintf("✅ *Données supprimées*\n📱 Utilisateur: %s\n💬 Messages supprimés: %d\n🗑️ Conversation supprimée", admin.Phone(target), n)
}

func (r *CommandRouter) adminExport(ctx context.Context, req CommandRequest) string {
	target := req.Command.arg(0)
	if target == "" {
		return "❌ Usage: /admin export [phone]"
	}
	path, n, err := r.admins.Export(ctx, target, req.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return "⚠️ Aucune conversation trouvée pour cet utilisateur"
	}
	if err != nil {
		return r.failed("export", err)
	}
	return fmt.Sprintf("✅ *Export réussi*\n📱 Utilisateur: %s\n💬 Messages exportés: %d\n📁 Fichier: %s", admin.Phone(target), n, path)
}

func (r *CommandRouter) adminConfig(ctx context.Context, req CommandRequest) string {
	switch strings.ToLower(req.Command.arg(0)) {
	case "", "show":
		settings := r.admins.Settings()
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "⚙️ *Configuration du Bot*\n%s\n\n🔧 Mode: %s\n\n*Configuration dynamique:*\n", separator, strings.ToUpper(string(r.admins.Mode())))
		for _, k := range keys {
			fmt.Fprintf(&b, "• %s: %s\n", k, settings[k])
		}
		typing := r.typingDelay.Milliseconds()
		if v, ok := settings[admin.KeyTypingDelay]; ok {
			if ms, err := strconv.Atoi(v); err == nil {
				typing = int64(ms)
			}
		}
		fmt.Fprintf(&b, "\n*Paramètres actuels:*\n• Typing delay: %dms\n• Message history limit: %d\n• AI Model: %s", typing, r.conversations.MaxHistory(), r.model)
		return b.String()
	case "help":
		return configHelp
	case "set":
		key, value := req.Command.arg(1), req.Command.rest(2)
		if key == "" || value == "" {
			return "❌ Usage: /admin config set [key] [value]"
		}
		err := r.admins.SetSetting(ctx, key, value, req.UserID)
		switch {
		case errors.Is(err, admin.ErrUnknownSetting):
			return "❌ Clé non autorisée. Clés valides:\n• " + strings.Join(admin.AllowedSettings, "\n• ")
		case errors.Is(err, admin.ErrInvalidValue):
			return "❌ Valeur invalide: " + err.Error()
		case err != nil:
			return r.failed("config", err)
		}
		return fmt.Sprintf("✅ Configuration mise à jour\n%s = %s", key, value)
	}
	return "❌ Usage: /admin config [show|help|set key value]"
}

func (r *CommandRouter) adminStats(ctx context.Context, req CommandRequest) string {
	period := strings.ToLower(req.Command.arg(0))
	switch period {
	case "week", "month":
	default:
		period = "today"
	}
	stats, err := r.admins.Stats(ctx, r.loc)
	if err != nil {
		return r.failed("stats", err)
	}
	snap := metrics.Collector.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Statistiques (%s)*\n%s\n\n📨 Messages aujourd'hui: %d\n💬 Messages total: %d\n👥 Conversations: %d\n📄 Documents: %d\n",
		period, separator, stats.MessagesToday, stats.Messages, stats.Conversations, stats.Documents)
	collections := make([]string, 0, len(stats.Records))
	for c := range stats.Records {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	for _, c := range collections {
		fmt.Fprintf(&b, "🗂️ %s: %d\n", c, stats.Records[c])
	}
	fmt.Fprintf(&b, "\n*Depuis le démarrage:*\n📥 Reçus: %d\n📤 Envoyés: %d\n❌ Échecs d'envoi: %d\n🤖 Requêtes IA: %d\n",
		metrics.MessagesReceived.Value(), metrics.MessagesSent.Value(), metrics.SendFailures.Value(), metrics.LLMRequestsTotal.Value())
	lanes := make([]string, 0)
	for k := range snap {
		if strings.HasPrefix(k, "jarvis_dispatch_total{") {
			lanes = append(lanes, k)
		}
	}
	sort.Strings(lanes)
	for _, k := range lanes {
		name := strings.TrimSuffix(strings.TrimPrefix(k, `jarvis_dispatch_total{lane="`), `"}`)
		fmt.Fprintf(&b, "• %s: %d\n", name, snap[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminAudit(ctx context.Context, req CommandRequest) string {
	entries, err := r.admins.AuditLog(ctx, 10)
	if err != nil {
		return r.failed("audit", err)
	}
	if len(entries) == 0 {
		return "📋 *Aucune action admin enregistrée*"
	}
	var b strings.Builder
	b.WriteString("📋 *Journal d'Audit Admin*\n" + separator + "\n\n")
	for i, e := range entries {
		detail := strings.TrimSpace(e.Target + " " + e.Details)
		fmt.Fprintf(&b, "%d. %s\n   👤 %s\n   🕐 %s\n   📝 %s\n\n", i+1, e.Action, e.Admin, scheduler.FormatDateTime(e.At.In(r.loc)), detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *CommandRouter) adminDebug(ctx context.Context, req CommandRequest) string {
	phone := req.Command.arg(0)
	if phone == "" {
		return "❌ Usage: /admin debug [phone]"
	}
	until := r.admins.EnableDebug(ctx, phone, req.UserID)
	return fmt.Sprintf("🐛 Mode debug activé pour %s jusqu'à %s", admin.Phone(phone), until.In(r.loc).Format("15:04"))
}

func (r *CommandRouter) adminSend(ctx context.Context, req CommandRequest) string {
	raw := req.Command.Name == "send-raw"
	if len(req.Command.Args) < 2 {
		return fmt.Sprintf("❌ Usage: /admin %s [phone] [message]\n📱 Format: +2250XXXXXXXXX ou 2250XXXXXXXXX", req.Command.Name)
	}
	if r.delivery == nil {
		return adminError
	}
	phone := admin.Phone(req.Command.arg(0))
	text := req.Command.rest(1)
	if !raw {
		text = adminBadge + text
	}
	if err := r.delivery.SendSingle(ctx, phone, text); err != nil {
		return r.failed("send", err)
	}
	r.admins.Audit(ctx, req.UserID, req.Command.Name, phone, truncate(req.Command.rest(1), 50))
	mode := "Normal"
	if raw {
		mode = "Brut"
	}
	return fmt.Sprintf("✅ Message envoyé à %s\nMode: %s", phone, mode)
}

func (r *CommandRouter) adminBroadcast(ctx context.Context, req CommandRequest) string {
	if len(req.Command.Args) < 2 {
		return "❌ Usage: /admin broadcast [all] [message]"
	}
	if !strings.EqualFold(req.Command.arg(0), "all") {
		return "❌ Target doit être: all"
	}
	if r.delivery == nil {
		return adminError
	}
	users, err := r.admins.Users(ctx, 1000)
	if err != nil {
		return r.failed("broadcast", err)
	}
	text := adminBadge + req.Command.rest(1)
	sent, failed := 0, 0
	for _, u := range users {
		if err := r.pacer.Wait(ctx); err != nil {
			failed += len(users) - sent - failed
			break
		}
		if err := r.delivery.SendSingle(ctx, admin.Phone(u.UserID), text); err != nil {
			r.logger.Warn("broadcast send failed", "to", u.UserID, "err", err)
			failed++
			continue
		}
		sent++
	}
	r.admins.Audit(ctx, req.UserID, "broadcast", "all", fmt.Sprintf("%d sent, %d failed", sent, failed))
	return fmt.Sprintf("📡 *Broadcast terminé*\n✅ Envoyés: %d\n❌ Échoués: %d", sent, failed)
}

// adminSchedule parses "/admin schedule <when...> <phone> <message...>".
func (r *CommandRouter) adminSchedule(ctx context.Context, req CommandRequest) string {
	usage := "❌ Usage: /admin schedule [quand] [phone] [message]\n\n💡 Exemple: /admin schedule demain 10h 2250700000000 Bonjour!"
	if len(req.Command.Args) < 3 {
		return usage
	}
	due, rest, ok := scheduler.ParseScheduleTime(req.Command.Args, r.now(), r.loc)
	if !ok {
		return "❌ Format de date invalide. Exemples: dans 2 heures, demain 10h, 25/12/2026 15:30"
	}
	if len(rest) < 2 {
		return usage
	}
	if !due.After(r.now()) {
		return "❌ La date doit être dans le futur"
	}
	phone := admin.Phone(rest[0])
	m, err := r.scheduler.ScheduleMessage(ctx, req.UserID, phone, adminBadge+strings.Join(rest[1:], " "), due)
	if err != nil {
		return r.failed("schedule", err)
	}
	r.admins.Audit(ctx, req.UserID, "schedule", phone, m.ID)
	return fmt.Sprintf("✅ Message programmé pour %s\n📨 Destinataire: %s\n🆔 ID: %s", scheduler.FormatDateTime(due.In(r.loc)), phone, scheduler.ShortID(m.ID))
}

func (r *CommandRouter) adminScheduled(ctx context.Context, req CommandRequest) string {
	switch strings.ToLower(req.Command.arg(0)) {
	case "", "list":
		list, err := r.scheduler.ScheduledMessages(ctx, req.UserID)
		if err != nil {
			return r.failed("scheduled", err)
		}
		if len(list) == 0 {
			return "📥 Aucun message programmé"
		}
		var b strings.Builder
		b.WriteString("🕰️ *Messages programmés:*\n")
		for _, m := range list {
			fmt.Fprintf(&b, "\n🆔 %s\n👤 %s\n🗓️ %s\n📝 %s\n", scheduler.ShortID(m.ID), m.To,
				scheduler.FormatDateTime(m.DueAt.In(r.loc)), truncate(strings.TrimPrefix(m.Message, adminBadge), 50))
		}
		return b.String()
	case "cancel":
		id := req.Command.arg(1)
		if id == "" {
			return "❌ Usage: /admin scheduled [list|cancel id]"
		}
		if _, err := r.scheduler.CancelMessage(ctx, req.UserID, id); err != nil {
			return "❌ Erreur lors de l'annulation"
		}
		r.admins.Audit(ctx, req.UserID, "cancel scheduled", id, "")
		return "✅ Message programmé annulé"
	}
	return "❌ Action invalide"
}
