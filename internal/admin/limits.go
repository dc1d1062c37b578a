package admin

import (
	"context"
	"fmt"
	"time"

	"jarvis/internal/domain"
)

// UserLimit is the daily message quota of one user.
type UserLimit struct {
	ID         string
	Phone      string
	DailyLimit int
	Used       int
	ResetAt    time.Time
}

func limitFrom(r domain.Record) UserLimit {
	return UserLimit{
		ID:         r.ID,
		Phone:      r.String("phone"),
		DailyLimit: int(r.Int("daily_limit")),
		Used:       int(r.Int("used")),
		ResetAt:    r.Time("reset_at"),
	}
}

func (s *Service) findLimit(ctx context.Context, phone string) (*UserLimit, error) {
	recs, err := s.store.ListRecords(ctx, LimitsCollection, domain.Where("phone", phone))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	l := limitFrom(recs[0])
	return &l, nil
}

// CheckUserLimit reports whether userID may send another message today.
// The counter resets 24h after the window opened. Users without a limit
// record get the default limit, or none when it is 0. Lookup errors allow.
func (s *Service) CheckUserLimit(ctx context.Context, userID string) bool {
	phone := Phone(userID)
	l, err := s.findLimit(ctx, phone)
	if err != nil {
		s.logger.Error("limit lookup failed", "user", userID, "err", err)
		return true
	}
	now := s.now()

	if l == nil {
		if s.defaultLimit <= 0 {
			return true
		}
		if _, err := s.store.CreateRecord(ctx, LimitsCollection, map[string]any{
			"phone": phone, "daily_limit": s.defaultLimit, "used": 0, "reset_at": now.Add(resetWindow),
		}); err != nil {
			s.logger.Error("create default limit failed", "user", userID, "err", err)
		}
		return true
	}

	if now.After(l.ResetAt) {
		if _, err := s.store.UpdateRecord(ctx, LimitsCollection, l.ID, map[string]any{
			"used": 0, "reset_at": now.Add(resetWindow),
		}); err != nil {
			s.logger.Error("limit reset failed", "user", userID, "err", err)
		}
		return true
	}
	return l.Used < l.DailyLimit
}

// IncrementUsage counts one answered message against userID's quota.
func (s *Service) IncrementUsage(ctx context.Context, userID string) {
	l, err := s.findLimit(ctx, Phone(userID))
	if err != nil {
		s.logger.Error("limit lookup failed", "user", userID, "err", err)
		return
	}
	if l == nil {
		return
	}
	if _, err := s.store.UpdateRecord(ctx, LimitsCollection, l.ID, map[string]any{"used": l.Used + 1}); err != nil {
		s.logger.Error("usage increment failed", "user", userID, "err", err)
	}
}

// SetLimit sets the daily quota of phone and restarts its window.
func (s *Service) SetLimit(ctx context.Context, phone string, daily int, by string) error {
	if daily < 0 {
		return fmt.Errorf("limit %d: %w", daily, ErrInvalidValue)
	}
	phone = Phone(phone)
	data := map[string]any{
		"phone": phone, "daily_limit": daily, "used": 0, "reset_at": s.now().Add(resetWindow),
	}
	l, err := s.findLimit(ctx, phone)
	if err != nil {
		return err
	}
	if l != nil {
		_, err = s.store.UpdateRecord(ctx, LimitsCollection, l.ID, data)
	} else {
		_, err = s.store.CreateRecord(ctx, LimitsCollection, data)
	}
	if err != nil {
		return fmt.Errorf("set limit for %s: %w", phone, err)
	}
	s.Audit(ctx, by, "limit", phone, fmt.Sprint(daily))
	return nil
}

func (s *Service) Limits(ctx context.Context) ([]UserLimit, error) {
	recs, err := s.store.ListRecords(ctx, LimitsCollection, domain.Query{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	out := make([]UserLimit, 0, len(recs))
	for _, r := range recs {
		out = append(out, limitFrom(r))
	}
	return out, nil
}
