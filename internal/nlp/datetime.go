package nlp

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var (
	dateTimeRe = regexp.MustCompile(`(?i)quelle?\s+heure|date\s+(?:sommes[- ]nous|on est)|dans\s+combien\s+de\s+(?:jours?|temps)|quel\s+jour|âge\s+si`)
	hourRe     = regexp.MustCompile(`(?i)quelle?\s+heure`)
	todayRe    = regexp.MustCompile(`(?i)(?:quelle?\s+)?date|quel\s+jour\s+(?:sommes[- ]nous|on est|est[- ]on)`)
	daysUntil  = regexp.MustCompile(`(?i)dans\s+combien\s+de\s+jours?\s+(?:on\s+sera\s+le\s+)?(\d{1,2})[/-](\d{1,2})(?:[/-](\d{2,4}))?`)
	ageRe      = regexp.MustCompile(`(?i)âge\s+si\s+(?:je suis née?|ma naissance)\s+(?:le\s+)?(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})`)
)

var frenchWeekdays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

var frenchMonths = [...]string{"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre"}

// FormatFrenchDate renders t as "lundi 19 octobre 2026".
func FormatFrenchDate(t time.Time) string {
	return fmt.Sprintf("%s %d %s %d", frenchWeekdays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1], t.Year())
}

func (r *Router) dateTime(text string) (string, bool) {
	if !dateTimeRe.MatchString(text) {
		return "", false
	}
	now := r.now().In(r.loc)

	if hourRe.MatchString(text) {
		return fmt.Sprintf("🕐 Il est %s à Abidjan", now.Format("15:04")), true
	}

	if m := daysUntil.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if len(m[3]) == 2 {
				year += 2000
			}
		}
		target := time.Date(year, time.Month(month), day, 0, 0, 0, 0, r.loc)
		days := int(math.Ceil(target.Sub(now).Hours() / 24))
		switch {
		case days == 0:
			return "📅 C'est aujourd'hui !", true
		case days == 1:
			return "📅 C'est demain !", true
		case days > 0:
			return fmt.Sprintf("📅 Dans %d jours", days), true
		default:
			return fmt.Sprintf("📅 C'était il y a %d jours", -days), true
		}
	}

	if m := ageRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 1900
		}
		age := now.Year() - year
		if now.Month() < time.Month(month) || (now.Month() == time.Month(month) && now.Day() < day) {
			age--
		}
		return fmt.Sprintf("🎂 Vous avez %d ans", age), true
	}

	if todayRe.MatchString(text) {
		return "📅 Nous sommes le " + FormatFrenchDate(now), true
	}
	return "❓ Je n'ai pas compris votre question sur la date/heure", true
}
