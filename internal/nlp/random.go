package nlp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var (
	coinFlipRe     = regexp.MustCompile(`(?i)pile\s+ou\s+face|lance\s+une?\s+pièce|flip\s+coin`)
	randomNumberRe = regexp.MustCompile(`(?i)(?:choisis?|donne|génère)\s+(?:un\s+)?nombre\s+entre\s+(\d+)\s+et\s+(\d+)`)
	randomChoiceRe = regexp.MustCompile(`(?i)choisis?\s+entre\s+(.+)`)
	choiceSep      = regexp.MustCompile(`(?i)[,،]|\s+ou\s+|\s+et\s+`)
	passwordRe     = regexp.MustCompile(`(?i)(?:génère|crée|donne)(?:-moi)?\s+(?:un\s+)?mot de passe\s*(?:de\s+(\d+)\s+caractères)?`)
)

const (
	defaultPasswordLength = 12
	minPasswordLength     = 6
	maxPasswordLength     = 64
	passwordCharset       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+-=[]{}|;:,.<>?"
)

func (r *Router) coinFlip(text string) (string, bool) {
	if !coinFlipRe.MatchString(text) {
		return "", false
	}
	if r.intN(2) == 0 {
		return "🪙 *Pile!*", true
	}
	return "💰 *Face!*", true
}

func (r *Router) randomNumber(text string) (string, bool) {
	m := randomNumberRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	lo, err1 := strconv.Atoi(m[1])
	hi, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return "", false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	n := lo + r.intN(hi-lo+1)
	return fmt.Sprintf("🎲 J'ai choisi le nombre : *%d*", n), true
}

func (r *Router) randomChoice(text string) (string, bool) {
	m := randomChoiceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	var choices []string
	for _, c := range choiceSep.Split(m[1], -1) {
		c = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(c), "?!."))
		if c != "" {
			choices = append(choices, c)
		}
	}
	if len(choices) < 2 {
		return "", false
	}
	return fmt.Sprintf("🎯 Mon choix : *%s*", choices[r.intN(len(choices))]), true
}

func (r *Router) password(text string) (string, bool) {
	m := passwordRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	length := defaultPasswordLength
	if m[1] != "" {
		length, _ = strconv.Atoi(m[1])
	}
	length = min(max(length, minPasswordLength), maxPasswordLength)

	pw, err := GeneratePassword(length)
	if err != nil {
		r.logger.Error("password generation failed", "err", err)
		return "", false
	}
	return fmt.Sprintf("🔐 Voici votre mot de passe sécurisé :\n`%s`\n\n_⚠️ Gardez-le en sécurité et ne le partagez pas_", pw), true
}

// GeneratePassword returns a random password drawn from letters, digits and
// symbols using the system CSPRNG.
func GeneratePassword(length int) (string, error) {
	limit := big.NewInt(int64(len(passwordCharset)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordCharset[n.Int64()])
	}
	return b.String(), nil
}
