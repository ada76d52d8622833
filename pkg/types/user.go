package types

import "time"

// User represents a platform account. Users are soft-deactivated rather than
// deleted so audit records always resolve to a real subject.
type User struct {
	ID               string     `json:"id" db:"id"`
	Username         string     `json:"username" db:"username"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Roles            []string   `json:"roles" db:"roles"`
	AssignedPatients []string   `json:"-" db:"assigned_patients"`
	MFASecret        string     `json:"-" db:"mfa_secret"`
	FailedAttempts   int        `json:"-" db:"failed_attempts"`
	LockedUntil      *time.Time `json:"-" db:"locked_until"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Locked reports whether the account is inside a lockout window at t.
func (u *User) Locked(t time.Time) bool {
	return u.LockedUntil != nil && t.Before(*u.LockedUntil)
}

// RegistrationRequest represents user registration data.
type RegistrationRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// Credentials represents a login request.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

// RefreshRequest rotates a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is the response to a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	SessionID    string `json:"sessionId"`
}
