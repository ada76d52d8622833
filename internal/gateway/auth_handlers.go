package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bioplatform/access-gateway/pkg/types"
)

// handleRegister creates a new account.
func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid request body"))
		return
	}

	user, err := s.creds.Register(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": user.ID})
}

// handleLogin verifies credentials and issues a token pair. Failed logins
// count against the client's throttle budget.
func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	exceeded, err := s.throttle.Exceeded(r.Context(), "login:"+ip)
	if err != nil {
		s.logger.WithError(err).Warn("Throttle lookup failed")
	}
	if exceeded {
		writeError(w, &types.GatewayError{
			Kind:    types.KindRateLimited,
			Code:    types.ErrCodeTooManyAttempts,
			Message: "Too many failed login attempts",
		})
		return
	}

	var creds types.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid request body"))
		return
	}

	user, err := s.creds.Verify(r.Context(), creds.Username, creds.Password, creds.MFACode)
	if err != nil {
		if types.KindOf(err) != types.KindAccountLocked {
			s.bumpThrottle(r.Context(), "login:"+ip)
		}
		writeError(w, err)
		return
	}

	pair, err := s.tokens.Issue(r.Context(), user, ip)
	if err != nil {
		s.logger.WithError(err).Error("Failed to issue tokens")
		writeError(w, types.NewInternalError(types.ErrCodeInternal, "Failed to issue tokens", err))
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh rotates a refresh token.
func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req types.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid request body"))
		return
	}
	if req.RefreshToken == "" {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "refreshToken is required"))
		return
	}

	pair, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if types.KindOf(err) == types.KindTokenReuseDetected {
			sessionID, _, _ := strings.Cut(req.RefreshToken, ".")
			if auditErr := s.audit.RecordSecurity(r.Context(), types.SubjectOf(err), "refresh_token_reuse", "session "+sessionID); auditErr != nil {
				s.logger.WithError(auditErr).Error("Failed to record token reuse")
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the caller's session. An explicit sessionId in the
// body may name another session of the same user, e.g. from a session list.
func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return
	}

	sessionID := claims.SessionID
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.SessionID != "" && req.SessionID != claims.SessionID {
		target, err := s.sessions.Get(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if target.UserID != claims.UserID {
			writeError(w, types.NewForbiddenError(types.ErrCodeAccessDenied, "Access denied"))
			return
		}
		sessionID = req.SessionID
	}

	if err := s.tokens.Revoke(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions returns the caller's live sessions.
func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return
	}

	sessions, err := s.sessions.ListActive(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleEnrollMFA provisions a TOTP secret for the caller.
func (s *Service) handleEnrollMFA(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return
	}

	url, err := s.creds.EnrollMFA(r.Context(), claims.UserID, s.cfg.JWT.Issuer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"otpauthUrl": url})
}
