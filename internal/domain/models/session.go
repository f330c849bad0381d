package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is the authenticated broker session. Treat it as immutable; a
// refresh replaces the whole value.
type Session struct {
	Token     string            `json:"token"`
	UserID    string            `json:"user_id,omitempty"`
	Balance   *decimal.Decimal  `json:"balance,omitempty"`
	Strategy  string            `json:"strategy"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
}

// Expired reports whether the session has a known expiry at or before now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
