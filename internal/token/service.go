package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// Claims carried by an access token. The session id binds the token to a
// revocable server-side session; assigned patients feed scope checks without
// a lookup on every request.
type Claims struct {
	UserID           string   `json:"uid"`
	Username         string   `json:"username"`
	Roles            []string `json:"roles"`
	SessionID        string   `json:"sid"`
	AssignedPatients []string `json:"assigned_patients,omitempty"`
	jwt.RegisteredClaims
}

// SessionRegistry is the session backend the token service drives.
type SessionRegistry interface {
	Create(ctx context.Context, userID, origin, refreshHash string, expiresAt time.Time) (*types.Session, error)
	Get(ctx context.Context, id string) (*types.Session, error)
	Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiry time.Time) (*types.Session, error)
	Revoke(ctx context.Context, sessionID string) error
}

// UserLookup resolves the subject of a session during refresh.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Config holds token signing parameters.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service issues and validates token pairs. Access tokens are short-lived
// HS256 JWTs; refresh tokens are opaque and stored only as a SHA-256 hash,
// rotated on every use.
type Service struct {
	cfg      Config
	sessions SessionRegistry
	users    UserLookup
	logger   *logger.Logger
	now      func() time.Time
}

// NewService creates a token service.
func NewService(cfg Config, sessions SessionRegistry, users UserLookup, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		logger:   log,
		now:      time.Now,
	}
}

// Issue creates a new session for the user and returns a token pair. The
// refresh token's wire format is "<session id>.<secret>" so that refresh
// needs no separate session identifier, while only the secret's hash is
// persisted.
func (s *Service) Issue(ctx context.Context, user *types.User, origin string) (*types.TokenPair, error) {
	secret, secretHash, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session, err := s.sessions.Create(ctx, user.ID, origin, secretHash, now.Add(s.cfg.RefreshTTL))
	if err != nil {
		return nil, err
	}

	access, err := s.signAccess(user, session.ID, now)
	if err != nil {
		return nil, err
	}

	return &types.TokenPair{
		AccessToken:  access,
		RefreshToken: session.ID + "." + secret,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		SessionID:    session.ID,
	}, nil
}

// VerifyAccess validates an access token's signature and expiry and confirms
// its session is still live. A structurally valid token whose session has
// been revoked does not grant access.
func (s *Service) VerifyAccess(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &types.GatewayError{
				Kind:    types.KindUnauthenticated,
				Code:    types.ErrCodeExpiredToken,
				Message: "Access token expired",
			}
		}
		return nil, &types.GatewayError{
			Kind:    types.KindUnauthenticated,
			Code:    types.ErrCodeInvalidSignature,
			Message: "Invalid access token",
			Cause:   err,
		}
	}
	if !parsed.Valid {
		return nil, &types.GatewayError{
			Kind:    types.KindUnauthenticated,
			Code:    types.ErrCodeInvalidSignature,
			Message: "Invalid access token",
		}
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			return nil, sessionRevokedError()
		}
		return nil, err
	}
	if !session.Live(s.now()) {
		return nil, sessionRevokedError()
	}
	return claims, nil
}

// Refresh rotates a refresh token. Presenting a stale token for a session is
// treated as evidence of theft: the whole session is revoked and the caller
// gets a reuse error.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	sessionID, secret, ok := strings.Cut(refreshToken, ".")
	if !ok || sessionID == "" || secret == "" {
		return nil, &types.GatewayError{
			Kind:    types.KindUnauthenticated,
			Code:    types.ErrCodeInvalidSignature,
			Message: "Malformed refresh token",
		}
	}
	presentedHash := hashRefresh(secret)

	newSecret, newHash, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session, err := s.sessions.Rotate(ctx, sessionID, presentedHash, newHash, now.Add(s.cfg.RefreshTTL))
	if err != nil {
		if types.KindOf(err) == types.KindTokenReuseDetected {
			s.logger.Security("refresh_token_reuse", types.SubjectOf(err), map[string]interface{}{
				"session_id": sessionID,
			})
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		if revokeErr := s.sessions.Revoke(ctx, sessionID); revokeErr != nil {
			s.logger.WithError(revokeErr).Error("Failed to revoke session of deactivated user")
		}
		return nil, sessionRevokedError()
	}

	access, err := s.signAccess(user, session.ID, now)
	if err != nil {
		return nil, err
	}

	return &types.TokenPair{
		AccessToken:  access,
		RefreshToken: session.ID + "." + newSecret,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		SessionID:    session.ID,
	}, nil
}

// Revoke ends a session. Access tokens bound to it stop validating
// immediately.
func (s *Service) Revoke(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

func (s *Service) signAccess(user *types.User, sessionID string, now time.Time) (string, error) {
	claims := &Claims{
		UserID:           user.ID,
		Username:         user.Username,
		Roles:            user.Roles,
		SessionID:        sessionID,
		AssignedPatients: user.AssignedPatients,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// newRefreshSecret returns an opaque 256-bit secret and the hex SHA-256 hash
// under which it is persisted.
func newRefreshSecret() (secret, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh secret: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, hashRefresh(secret), nil
}

func hashRefresh(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func sessionRevokedError() error {
	return &types.GatewayError{
		Kind:    types.KindUnauthenticated,
		Code:    types.ErrCodeSessionRevoked,
		Message: "Session is no longer valid",
	}
}
