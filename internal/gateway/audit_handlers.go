package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bioplatform/access-gateway/pkg/types"

	"github.com/bioplatform/access-gateway/internal/rbac"
)

// requireAuditRead authorizes the caller for audit trail reads.
func (s *Service) requireAuditRead(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return false
	}

	decision := s.authz.Authorize(claims.Roles, rbac.ResourceAuditLog, rbac.ActionRead, rbac.ScopeContext{
		UserID:           claims.UserID,
		AssignedPatients: claims.AssignedPatients,
	})
	if !decision.Granted {
		writeError(w, types.NewForbiddenError(types.ErrCodeAccessDenied, "Access denied"))
		return false
	}
	return true
}

// handleAuditByPatient returns the trail for one patient, default window 30
// days.
func (s *Service) handleAuditByPatient(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuditRead(w, r) {
		return
	}

	patientID := mux.Vars(r)["id"]
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "days must be a positive integer"))
			return
		}
		days = parsed
	}

	since := time.Now().AddDate(0, 0, -days)
	records, err := s.audit.QueryBySubject(r.Context(), patientID, since)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patientId": patientID,
		"since":     since,
		"records":   records,
	})
}

// handleAuditStatistics aggregates decisions over a window, default the last
// 24 hours.
func (s *Service) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	if !s.requireAuditRead(w, r) {
		return
	}

	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "from must be RFC 3339"))
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "to must be RFC 3339"))
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "from must precede to"))
		return
	}

	stats, err := s.audit.QueryStatistics(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
