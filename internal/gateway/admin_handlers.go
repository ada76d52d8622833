package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bioplatform/access-gateway/pkg/types"
)

// requireAdmin gates the user-administration endpoints on the admin role.
func (s *Service) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return false
	}
	for _, role := range claims.Roles {
		if role == "admin" {
			return true
		}
	}
	writeError(w, types.NewForbiddenError(types.ErrCodeAccessDenied, "Access denied"))
	return false
}

// handleAssignPatients replaces a caregiver's patient assignment list. The
// change reaches scope checks when the caregiver next obtains a token.
func (s *Service) handleAssignPatients(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req struct {
		Patients []string `json:"patients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "Invalid request body"))
		return
	}

	userID := mux.Vars(r)["id"]
	if err := s.creds.AssignPatients(r.Context(), userID, req.Patients); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":   userID,
		"patients": req.Patients,
	})
}

// handleDeactivateUser soft-deactivates an account and revokes all of its
// sessions, so outstanding tokens die immediately.
func (s *Service) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	userID := mux.Vars(r)["id"]
	if err := s.creds.Deactivate(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	revoked, err := s.sessions.RevokeAllForUser(r.Context(), userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to revoke sessions on deactivation")
		writeError(w, types.NewInternalError(types.ErrCodeInternal, "Failed to revoke sessions", err))
		return
	}

	s.logger.Security("user_deactivated", userID, map[string]interface{}{
		"sessions_revoked": revoked,
	})
	w.WriteHeader(http.StatusNoContent)
}
