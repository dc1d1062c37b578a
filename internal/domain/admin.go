package domain

import "time"

// BotMode is the process-wide operating mode, changed only by admins.
type BotMode string

const (
	ModeNormal      BotMode = "normal"
	ModeMaintenance BotMode = "maintenance"
	ModeReadonly    BotMode = "readonly"
)

// Valid reports whether m is a known mode.
func (m BotMode) Valid() bool {
	switch m {
	case ModeNormal, ModeMaintenance, ModeReadonly:
		return true
	}
	return false
}

type AuditEntry struct {
	Admin   string    `json:"admin"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}
