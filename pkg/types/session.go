package types

import "time"

// Session tracks one live login. The access token embeds the session id, so
// revoking the session kills every access token minted for it immediately.
// Only the SHA-256 hash of the current refresh token is kept; presenting a
// refresh token whose hash does not match the stored one is treated as reuse
// of a rotated token.
type Session struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Origin        string    `json:"origin" db:"origin"`
	RefreshHash   string    `json:"-" db:"refresh_hash"`
	IssuedAt      time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	LastRefreshAt time.Time `json:"last_refresh_at" db:"last_refresh_at"`
	Revoked       bool      `json:"revoked" db:"revoked"`
}

// Live reports whether the session is usable at t.
func (s *Session) Live(t time.Time) bool {
	return !s.Revoked && t.Before(s.ExpiresAt)
}
