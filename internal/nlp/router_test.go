package nlp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis/internal/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fixedNow is Monday 19 October 2026, 10:30 in Abidjan (UTC+0).
var fixedNow = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

func testRouter(t *testing.T) *Router {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "nlp.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(Config{
		Store:  store,
		Now:    func() time.Time { return fixedNow },
		IntN:   func(n int) int { return n - 1 },
		Logger: testLogger(),
	})
}

// squash drops every kind of space so grouping separators do not matter.
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)
}

func detect(t *testing.T, r *Router, text string) Intent {
	t.Helper()
	intent, ok := r.Detect(context.Background(), "u1", text)
	require.True(t, ok, "expected a shortcut for %q", text)
	return intent
}

func TestDetect_Arithmetic(t *testing.T) {
	r := testRouter(t)

	intent := detect(t, r, "12 + 8")
	assert.Equal(t, KindCalculation, intent.Kind)
	assert.Equal(t, "🧮 20", intent.Reply)

	assert.Equal(t, "🧮 6", detect(t, r, "combien font 10 - 4").Reply)
	assert.Equal(t, "🧮 42", detect(t, r, "6 x 7").Reply)
	assert.Equal(t, "🧮 2,5", detect(t, r, "5 / 2").Reply)
}

func TestDetect_DivisionByZeroFallsThrough(t *testing.T) {
	r := testRouter(t)
	_, ok := r.Detect(context.Background(), "u1", "5 / 0")
	assert.False(t, ok)
}

func TestDetect_PercentShareVAT(t *testing.T) {
	r := testRouter(t)

	assert.Equal(t, "🧮 30\n15% de 200", detect(t, r, "15% de 200").Reply)

	share := detect(t, r, "partage 30000 entre 3 personnes").Reply
	assert.Equal(t, "🧮10000CFAparpersonne\n30000CFApartagéentre3personnes", squash(share))

	vat := detect(t, r, "calcule la tva sur 1000").Reply
	assert.Contains(t, squash(vat), "TVA(18%):180CFA")
	assert.Contains(t, squash(vat), "TTC:1180CFA")
}

func TestDetect_Conversions(t *testing.T) {
	r := testRouter(t)

	eur := detect(t, r, "10 euros en cfa")
	assert.Equal(t, KindConversion, eur.Kind)
	assert.Equal(t, "💱10€=6559,57CFA", squash(eur.Reply))

	assert.Equal(t, "💱 100°C = 212.0°F", detect(t, r, "100 c en f").Reply)
	assert.Equal(t, "💱 10 km = 6.21 miles", detect(t, r, "10 km en miles").Reply)
	assert.Equal(t, "💱5$=3000CFA", squash(detect(t, r, "5 dollars en fcfa").Reply))
}

func TestDetect_Random(t *testing.T) {
	r := testRouter(t)

	coin := detect(t, r, "pile ou face ?")
	assert.Equal(t, KindCoinFlip, coin.Kind)
	assert.Equal(t, "💰 *Face!*", coin.Reply)

	n := detect(t, r, "choisis un nombre entre 1 et 10")
	assert.Equal(t, KindRandomNumber, n.Kind)
	assert.Equal(t, "🎲 J'ai choisi le nombre : *10*", n.Reply)

	c := detect(t, r, "choisis entre pizza, burger ou attiéké")
	assert.Equal(t, KindRandomChoice, c.Kind)
	assert.Equal(t, "🎯 Mon choix : *attiéké*", c.Reply)
}

func TestDetect_Password(t *testing.T) {
	r := testRouter(t)

	intent := detect(t, r, "génère un mot de passe de 20 caractères")
	assert.Equal(t, KindPassword, intent.Kind)
	start := strings.Index(intent.Reply, "`")
	end := strings.LastIndex(intent.Reply, "`")
	require.True(t, start >= 0 && end > start)
	assert.Len(t, intent.Reply[start+1:end], 20)
}

func TestGeneratePassword_Charset(t *testing.T) {
	pw, err := GeneratePassword(64)
	require.NoError(t, err)
	for _, c := range pw {
		assert.True(t, strings.ContainsRune(passwordCharset, c), "unexpected rune %q", c)
	}
}

func TestDetect_Notes(t *testing.T) {
	r := testRouter(t)
	ctx := context.Background()

	save := detect(t, r, "note que le code wifi est Nourx2026")
	assert.Equal(t, KindNote, save.Kind)
	assert.Equal(t, "📝 J'ai noté que code wifi est Nourx2026", save.Reply)

	assert.Equal(t, "📝 code wifi : Nourx2026", detect(t, r, "c'est quoi le code wifi ?").Reply)

	// Overwrite keeps a single note.
	detect(t, r, "note que le code wifi est Abidjan225")
	assert.Equal(t, "📝 code wifi : Abidjan225", detect(t, r, "quel est le code wifi ?").Reply)

	list := detect(t, r, "montre mes notes").Reply
	assert.Equal(t, "📝 *Vos notes :*\n• code wifi : Abidjan225\n", list)

	// Notes are scoped per user.
	_, ok := r.Detect(ctx, "u2", "c'est quoi le code wifi ?")
	assert.False(t, ok)

	assert.Equal(t, "🗑️ Note sur \"code wifi\" supprimée", detect(t, r, "oublie la note sur code wifi").Reply)
	assert.Equal(t, "📝 Vous n'avez aucune note enregistrée", detect(t, r, "affiche mes notes").Reply)
}

func TestDetect_UnknownNoteQuestionReachesAssistant(t *testing.T) {
	r := testRouter(t)
	_, ok := r.Detect(context.Background(), "u1", "c'est quoi l'intelligence artificielle ?")
	assert.False(t, ok)
}

func TestDetect_Lists(t *testing.T) {
	r := testRouter(t)

	assert.Equal(t, "✅ \"lait\" ajouté à votre liste de courses", detect(t, r, "ajoute lait à ma liste de courses").Reply)
	detect(t, r, "ajoute pain à ma liste de courses")
	detect(t, r, "ajoute lait à ma liste de courses")

	assert.Equal(t, "📋 *Liste de courses :*\n• lait\n• pain\n", detect(t, r, "montre ma liste de courses").Reply)
	assert.Equal(t, "📋 *Vos listes :*\n• courses (2 éléments)\n", detect(t, r, "mes listes").Reply)

	assert.Equal(t, "✅ \"Lait\" retiré de votre liste de courses", detect(t, r, "retire Lait de ma liste de courses").Reply)
	assert.Equal(t, "❓ \"riz\" n'est pas dans votre liste de courses", detect(t, r, "enlève riz de ma liste de courses").Reply)

	assert.Equal(t, "🗑️ Liste de courses vidée", detect(t, r, "vide ma liste de courses").Reply)
	assert.Equal(t, "📋 Votre liste de courses est vide", detect(t, r, "affiche ma liste de courses").Reply)
	assert.Equal(t, "❓ Aucune liste de cadeaux trouvée", detect(t, r, "efface ma liste de cadeaux").Reply)
}

func TestDetect_DateTime(t *testing.T) {
	r := testRouter(t)

	assert.Equal(t, "🕐 Il est 10:30 à Abidjan", detect(t, r, "quelle heure est-il ?").Reply)
	assert.Equal(t, "📅 Nous sommes le lundi 19 octobre 2026", detect(t, r, "quelle date sommes-nous ?").Reply)
	assert.Equal(t, "📅 C'est demain !", detect(t, r, "dans combien de jours on sera le 20/10/2026").Reply)
	assert.Equal(t, "📅 Dans 67 jours", detect(t, r, "dans combien de jours on sera le 25/12/2026").Reply)
	assert.Equal(t, "📅 C'était il y a 18 jours", detect(t, r, "dans combien de jours 01/10").Reply)
	assert.Equal(t, "🎂 Vous avez 35 ans", detect(t, r, "quel âge si je suis né le 20/10/1990").Reply)
	assert.Equal(t, "🎂 Vous avez 36 ans", detect(t, r, "âge si je suis né le 19/10/90").Reply)
}

func TestDetect_None(t *testing.T) {
	r := testRouter(t)
	intent, ok := r.Detect(context.Background(), "u1", "Bonjour")
	assert.False(t, ok)
	assert.Equal(t, KindNone, intent.Kind)
}

func TestDetect_WithoutStoreSkipsNotes(t *testing.T) {
	r := New(Config{Logger: testLogger()})
	_, ok := r.Detect(context.Background(), "u1", "note que le code est 1234")
	assert.False(t, ok)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "20", FormatNumber(20))
	assert.Equal(t, "0,333", FormatNumber(1.0/3))
	assert.Equal(t, "1234567", squash(FormatNumber(1234567)))
}
