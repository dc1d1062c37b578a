// Package nlp answers a fixed set of everyday requests (conversions,
// arithmetic, random picks, personal notes and lists, dates) without calling
// the LLM.
package nlp

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"jarvis/internal/domain"
)

// Kind tags the detector that produced an Intent.
type Kind string

const (
	KindNone         Kind = "none"
	KindConversion   Kind = "conversion"
	KindCalculation  Kind = "calculation"
	KindCoinFlip     Kind = "coin_flip"
	KindRandomNumber Kind = "random_number"
	KindRandomChoice Kind = "random_choice"
	KindPassword     Kind = "password"
	KindNote         Kind = "note"
	KindList         Kind = "list"
	KindDateTime     Kind = "datetime"
)

// Intent is the outcome of a matched detector, with the reply to send.
type Intent struct {
	Kind  Kind
	Reply string
}

// detector reports a reply for text, or false when it does not apply.
type detector struct {
	kind   Kind
	detect func(ctx context.Context, userID, text string) (string, bool)
}

// Router runs the detectors in priority order; the first match wins.
type Router struct {
	detectors []detector
	notes     *Notes
	loc       *time.Location
	now       func() time.Time
	intN      func(n int) int
	logger    *slog.Logger
}

type Config struct {
	// Store persists notes and lists. Without it those detectors are off.
	Store    domain.DocumentStore
	Location *time.Location   // default Africa/Abidjan
	Now      func() time.Time // default time.Now
	IntN     func(n int) int  // default math/rand/v2.IntN
	Logger   *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Africa/Abidjan")
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Router{
		loc:    cfg.Location,
		now:    cfg.Now,
		intN:   cfg.IntN,
		logger: cfg.Logger,
	}
	if cfg.Store != nil {
		r.notes = NewNotes(cfg.Store, cfg.Logger)
	}

	r.detectors = []detector{
		{KindConversion, pure(Conversion)},
		{KindCalculation, pure(Calculation)},
		{KindCoinFlip, pure(r.coinFlip)},
		{KindRandomNumber, pure(r.randomNumber)},
		{KindRandomChoice, pure(r.randomChoice)},
		{KindPassword, pure(r.password)},
	}
	if r.notes != nil {
		r.detectors = append(r.detectors,
			detector{KindNote, r.notes.HandleNote},
			detector{KindList, r.notes.HandleList},
		)
	}
	r.detectors = append(r.detectors, detector{KindDateTime, pure(r.dateTime)})
	return r
}

func pure(fn func(text string) (string, bool)) func(context.Context, string, string) (string, bool) {
	return func(_ context.Context, _ string, text string) (string, bool) {
		return fn(text)
	}
}

// Detect returns the first matching intent for text sent by userID.
func (r *Router) Detect(ctx context.Context, userID, text string) (Intent, bool) {
	for _, d := range r.detectors {
		if reply, ok := d.detect(ctx, userID, text); ok {
			r.logger.Debug("shortcut matched", "kind", d.kind, "user", userID)
			return Intent{Kind: d.kind, Reply: reply}, true
		}
	}
	return Intent{Kind: KindNone}, false
}
