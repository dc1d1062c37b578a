package agent

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd := ParseCommand("  /Remind 2h Appeler client ")
	require.NotNil(t, cmd)
	assert.Equal(t, "remind", cmd.Name)
	assert.Equal(t, []string{"2h", "Appeler", "client"}, cmd.Args)
	assert.Equal(t, "Appeler client", cmd.rest(1))
	assert.Equal(t, "", cmd.arg(5))

	assert.Nil(t, ParseCommand("bonjour /help"))
	assert.Nil(t, ParseCommand("/"))
}

// run executes one command line the way the dispatcher would.
func run(t *testing.T, h *harness, from, line string) string {
	t.Helper()
	cmd := ParseCommand(line)
	require.NotNil(t, cmd)
	handler, ok := h.d.commands.Lookup(cmd.Name)
	require.True(t, ok, "unknown command %q", cmd.Name)
	ctx := context.Background()
	return handler(ctx, CommandRequest{Command: cmd, UserID: from, ReplyTo: from, IsAdmin: h.admins.IsAdmin(ctx, from)})
}

func TestCommandRouter_Names(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	names := h.d.commands.Names()
	for _, want := range []string{"admin", "doc", "help", "human", "remind", "schedule", "ticket"} {
		assert.Contains(t, names, want)
	}
}

func TestTicketCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.Contains(t, run(t, h, userJID, "/ticket"), "Veuillez décrire votre problème")
	assert.Equal(t, "📭 Vous n'avez aucun ticket.", run(t, h, userJID, "/tickets"))

	reply := run(t, h, userJID, "/ticket Mon chatbot ne répond plus")
	assert.Contains(t, reply, "Mon chatbot ne répond plus")
	assert.Contains(t, reply, "✅ Votre demande a été enregistrée.")

	list := run(t, h, userJID, "/tickets")
	assert.True(t, strings.HasPrefix(list, "📋 *Vos tickets récents:*"))
	assert.Contains(t, list, "Mon chatbot ne répond plus")
}

func TestHumanEscalationNotifiesAdmins(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	reply := run(t, h, userJID, "/human")
	assert.Contains(t, reply, "🤝 *Escalade vers un humain*")

	sends := h.transport.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "2250799999999", sends[0].to)
	assert.Contains(t, sends[0].text, "2250711111111")
}

func TestProjectCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.Equal(t, "📭 Vous n'avez aucun projet actif.", run(t, h, userJID, "/projects"))
	assert.Contains(t, run(t, h, userJID, "/project Refonte site web"), "📁 Nom: Refonte site web")
	assert.Contains(t, run(t, h, userJID, "/projects"), "Refonte site web")
}

func TestRemindCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.Contains(t, run(t, h, userJID, "/remind 2h"), "❌ Usage: /remind")
	assert.Contains(t, run(t, h, userJID, "/remind bientôt Appeler"), "Format de temps non reconnu")

	reply := run(t, h, userJID, "/remind 30m Appeler client")
	assert.Contains(t, reply, "📝 Appeler client")
	assert.Contains(t, reply, "Je vous enverrai un rappel")

	assert.Contains(t, run(t, h, userJID, "/reminders"), "🔔 *Vos rappels actifs:*")
}

func TestScheduleCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.Contains(t, run(t, h, userJID, "/schedule"), "Commandes de messages programmés")
	assert.Contains(t, run(t, h, userJID, "/schedule dans"), "Format incorrect")
	assert.Contains(t, run(t, h, userJID, "/schedule bientôt Rappel"), "Format de date invalide")
	assert.Equal(t, "❌ Veuillez spécifier un message à envoyer", run(t, h, userJID, "/schedule dans 1 heure"))

	reply := run(t, h, userJID, "/schedule dans 1 heure Rappel important")
	require.Contains(t, reply, "✅ Message programmé avec succès!")
	id := regexp.MustCompile(`/schedule cancel (\S+)_`).FindStringSubmatch(reply)
	require.Len(t, id, 2)

	assert.Contains(t, run(t, h, userJID, "/schedule list"), "Rappel important")
	assert.Contains(t, run(t, h, userJID, "/schedule cancel "+id[1]), "annulé avec succès")
	assert.Equal(t, "📭 Vous n'avez aucun message programmé", run(t, h, userJID, "/schedule liste"))
	assert.Contains(t, run(t, h, userJID, "/schedule cancel "+id[1]), "Impossible d'annuler")
}

func TestDocCommands(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.Contains(t, run(t, h, userJID, "/doc"), "📄 *Commandes Documents:*")
	assert.Contains(t, run(t, h, userJID, "/doc list"), "📭 Vous n'avez aucun document.")
	assert.Equal(t, "❌ Usage: /doc query [votre question]", run(t, h, userJID, "/doc query"))
	assert.Equal(t, "❌ Document non trouvé.", run(t, h, userJID, "/doc info abcd1234"))
}

func TestAdminCommand_RefusedForUsers(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.Equal(t, "❌ Accès refusé. Cette commande est réservée aux administrateurs.", run(t, h, userJID, "/admin status"))
}

func TestAdminCommand_Unknown(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.Equal(t, "❌ Commande admin inconnue. Tapez /admin help pour l'aide.", run(t, h, adminJID, "/admin reboot"))
	assert.Contains(t, run(t, h, adminJID, "/admin"), "Commandes Administrateur")
}

func TestAdminBlockUnblock(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.Equal(t, "❌ Usage: /admin block [phone] [reason]", run(t, h, adminJID, "/admin block"))
	assert.Equal(t, "✅ Utilisateur 2250711111111 bloqué avec succès", run(t, h, adminJID, "/admin block +2250711111111 spam"))
	assert.Equal(t, "⚠️ Cet utilisateur est déjà bloqué", run(t, h, adminJID, "/admin block 2250711111111"))

	list := run(t, h, adminJID, "/admin blacklist")
	assert.Contains(t, list, "📱 2250711111111")
	assert.Contains(t, list, "📝 Raison: spam")

	assert.Equal(t, "✅ Utilisateur 2250711111111 débloqué avec succès", run(t, h, adminJID, "/admin unblock 2250711111111"))
	assert.Equal(t, "⚠️ Cet utilisateur n'est pas bloqué", run(t, h, adminJID, "/admin unblock 2250711111111"))
	assert.Equal(t, "✅ *Aucun utilisateur bloqué*", run(t, h, adminJID, "/admin blacklist"))
}

func TestAdminLimit(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.Equal(t, "❌ La limite doit être un nombre", run(t, h, adminJID, "/admin limit 2250711111111 beaucoup"))
	assert.Equal(t, "✅ Limite de 50 messages/jour définie pour 2250711111111", run(t, h, adminJID, "/admin limit 2250711111111 50"))
	assert.Contains(t, run(t, h, adminJID, "/admin limits"), "📊 0/50 messages")
}

func TestAdminModeAndConfig(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	assert.Equal(t, "❌ Mode invalide. Modes valides: normal, maintenance, readonly", run(t, h, adminJID, "/admin mode off"))
	assert.Contains(t, run(t, h, adminJID, "/admin mode maintenance"), "✅ Mode changé en: MAINTENANCE")
	assert.Contains(t, run(t, h, adminJID, "/admin config"), "🔧 Mode: MAINTENANCE")

	assert.Equal(t, "✅ Configuration mise à jour\ntyping_delay = 2000", run(t, h, adminJID, "/admin config set typing_delay 2000"))
	assert.Contains(t, run(t, h, adminJID, "/admin config show"), "• Typing delay: 2000ms")
	assert.Contains(t, run(t, h, adminJID, "/admin config set colour blue"), "❌ Clé non autorisée")
	assert.Contains(t, run(t, h, adminJID, "/admin config set typing_delay 99999"), "❌ Valeur invalide")

	assert.Contains(t, run(t, h, adminJID, "/admin audit"), "mode")
}

func TestAdminSendAndBroadcast(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	h.d.Handle(ctx, text(userJID, "12 + 8")) // gives the user a conversation
	before := len(h.transport.all())

	assert.Equal(t, "✅ Message envoyé à 2250711111111\nMode: Normal", run(t, h, adminJID, "/admin send 2250711111111 Bonjour"))
	assert.Equal(t, "✅ Message envoyé à 2250711111111\nMode: Brut", run(t, h, adminJID, "/admin send-raw 2250711111111 Salut"))
	assert.Equal(t, "❌ Target doit être: all", run(t, h, adminJID, "/admin broadcast vip Promo"))
	assert.Equal(t, "📡 *Broadcast terminé*\n✅ Envoyés: 1\n❌ Échoués: 0", run(t, h, adminJID, "/admin broadcast all Promo"))

	sends := h.transport.all()[before:]
	require.Len(t, sends, 3)
	assert.Equal(t, adminBadge+"Bonjour", sends[0].text)
	assert.Equal(t, "Salut", sends[1].text)
	assert.Equal(t, adminBadge+"Promo", sends[2].text)
}

func TestAdminSchedule(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	reply := run(t, h, adminJID, "/admin schedule dans 2 heures 2250711111111 Réunion à 15h")
	assert.Contains(t, reply, "📨 Destinataire: 2250711111111")

	list := run(t, h, adminJID, "/admin scheduled list")
	assert.Contains(t, list, "🕰️ *Messages programmés:*")
	assert.Contains(t, list, "Réunion à 15h")

	id := regexp.MustCompile(`🆔 ID: (\S+)`).FindStringSubmatch(reply)
	require.Len(t, id, 2)
	assert.Equal(t, "✅ Message programmé annulé", run(t, h, adminJID, "/admin scheduled cancel "+id[1]))
	assert.Equal(t, "📥 Aucun message programmé", run(t, h, adminJID, "/admin scheduled"))
	assert.Equal(t, "❌ Action invalide", run(t, h, adminJID, "/admin scheduled purge"))
}

func TestAdminClear(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.d.Handle(context.Background(), text(userJID, "Bonjour"))

	assert.Equal(t, "⚠️ Aucune conversation trouvée pour cet utilisateur", run(t, h, adminJID, "/admin clear 2250700000001"))
	reply := run(t, h, adminJID, "/admin clear 2250711111111")
	assert.Contains(t, reply, "💬 Messages supprimés: 2")
	assert.Equal(t, "📊 *Aucun utilisateur actif*", run(t, h, adminJID, "/admin users"))
}

func TestInfoAndClear(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.d.Handle(context.Background(), text(userJID, "Bonjour"))

	cmd := ParseCommand("/info")
	cc, err := h.d.conversations.LoadContext(context.Background(), userJID)
	require.NoError(t, err)
	info := h.d.commands.info(context.Background(), CommandRequest{Command: cmd, UserID: userJID, Context: cc})
	assert.Contains(t, info, "💬 Messages en mémoire: 2/20")

	assert.Contains(t, run(t, h, userJID, "/clear"), "🧹 *Historique effacé*")
	cc, err = h.d.conversations.LoadContext(context.Background(), userJID)
	require.NoError(t, err)
	assert.Empty(t, cc.History)
}
