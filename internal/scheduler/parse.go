package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jarvis/internal/nlp"
)

var durationRe = regexp.MustCompile(`^(\d+)\s*(m|min|h|d|j|w)$`)

// ParseDuration parses the short offsets accepted by /remind: 15m, 2h, 1d
// (or 1j), 1w.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	unit := map[string]time.Duration{
		"m": time.Minute, "min": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour, "j": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

var (
	relUnitRe  = regexp.MustCompile(`^(minutes?|min|heures?|h|jours?|semaines?)$`)
	clockHRe   = regexp.MustCompile(`^(\d{1,2})h(\d{2})?$`)
	clockColRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	dateRe     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// ParseScheduleTime reads a French date expression from the start of
// args and returns the instant it names plus the remaining words:
//
//	dans 30 minutes | dans 2 heures | dans 3 jours
//	demain 10h | demain 10h30 | demain 09:15
//	25/12/2026 15:30
//	15:30 | 15h30 (today, or tomorrow once passed)
func ParseScheduleTime(args []string, now time.Time, loc *time.Location) (time.Time, []string, bool) {
	if len(args) == 0 {
		return time.Time{}, nil, false
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	first := strings.ToLower(args[0])

	switch {
	case first == "dans":
		if len(args) < 3 {
			return time.Time{}, nil, false
		}
		n, err := strconv.Atoi(args[1])
		unit := strings.ToLower(args[2])
		if err != nil || n <= 0 || !relUnitRe.MatchString(unit) {
			return time.Time{}, nil, false
		}
		switch {
		case strings.HasPrefix(unit, "min"):
			return now.Add(time.Duration(n) * time.Minute), args[3:], true
		case strings.HasPrefix(unit, "h"):
			return now.Add(time.Duration(n) * time.Hour), args[3:], true
		case strings.HasPrefix(unit, "jour"):
			return now.AddDate(0, 0, n), args[3:], true
		default:
			return now.AddDate(0, 0, 7*n), args[3:], true
		}

	case first == "demain":
		if len(args) < 2 {
			return time.Time{}, nil, false
		}
		h, mi, ok := parseClock(args[1])
		if !ok {
			return time.Time{}, nil, false
		}
		d := now.AddDate(0, 0, 1)
		return time.Date(d.Year(), d.Month(), d.Day(), h, mi, 0, 0, loc), args[2:], true

	case dateRe.MatchString(first):
		if len(args) < 2 {
			return time.Time{}, nil, false
		}
		m := dateRe.FindStringSubmatch(first)
		h, mi, ok := parseClock(args[1])
		if !ok {
			return time.Time{}, nil, false
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), day, h, mi, 0, 0, loc)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, nil, false
		}
		return t, args[2:], true
	}

	if h, mi, ok := parseClock(first); ok {
		t := time.Date(now.Year(), now.Month(), now.Day(), h, mi, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, args[1:], true
	}
	return time.Time{}, nil, false
}

func parseClock(s string) (hour, minute int, ok bool) {
	s = strings.ToLower(s)
	m := clockHRe.FindStringSubmatch(s)
	if m == nil {
		m = clockColRe.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// IntervalName is the French adjective for a recurrence interval.
func IntervalName(recurring string) string {
	switch recurring {
	case Daily:
		return "quotidien"
	case Weekly:
		return "hebdomadaire"
	case Monthly:
		return "mensuel"
	}
	return recurring
}

// FormatDateTime renders t as "lundi 19 octobre 2026 à 10:30".
func FormatDateTime(t time.Time) string {
	return nlp.FormatFrenchDate(t) + " à " + t.Format("15:04")
}

// FormatReminder renders a reminder card as shown by /remind and /reminders.
// Times are shown in loc.
func FormatReminder(r Reminder, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	due := r.DueAt.In(loc)
	var b strings.Builder
	fmt.Fprintf(&b, "📅 *%s*\n⏰ *%s*\n\n📝 %s", nlp.FormatFrenchDate(due), due.Format("15:04"), r.Message)
	if r.Recurring != "" {
		fmt.Fprintf(&b, "\n\n🔄 _Récurrent: %s_", IntervalName(r.Recurring))
	}
	fmt.Fprintf(&b, "\n\n🆔 ID: %s", ShortID(r.ID))
	return b.String()
}

// FormatDelivery is the text sent when a reminder fires.
func FormatDelivery(r Reminder) string {
	msg := "🔔 *Rappel Jarvis*\n━━━━━━━━━━━━━━\n\n" + r.Message
	if r.Recurring != "" {
		msg += "\n\n_Ce rappel est récurrent (" + IntervalName(r.Recurring) + ")_"
	}
	return msg
}

// ShortID is the id prefix shown to users; commands accept it back.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
