package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bioplatform/access-gateway/pkg/monitoring"
	"github.com/bioplatform/access-gateway/pkg/types"

	"github.com/bioplatform/access-gateway/internal/rbac"
)

// handleProxy runs the full access pipeline for a backend request:
// authenticated claims, route and action resolution, authorization, the
// attempt audit record, the forwarded call and the outcome audit record.
// The decision and its outcome are always recorded, including when the
// client disconnects mid-call.
func (s *Service) handleProxy(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing token"))
		return
	}

	route, remainder, ok := s.routes.Resolve(r.URL.Path)
	if !ok {
		writeError(w, types.NewNotFoundError(types.ErrCodeRouteNotFound, "No backend serves this path"))
		return
	}

	resource, err := rbac.ParseResourceType(route.ResourceType)
	if err != nil {
		s.logger.WithError(err).WithField("backend", route.Name).Error("Backend has invalid resource type")
		writeError(w, types.NewInternalError(types.ErrCodeInternal, "Misconfigured route", err))
		return
	}

	action, ok := rbac.ActionForRequest(r.Method, resource)
	if !ok {
		writeError(w, types.NewValidationError(types.ErrCodeInvalidInput, "Method not supported"))
		return
	}

	patientID := resourceID(r, remainder)
	decision := s.authz.Authorize(claims.Roles, resource, action, rbac.ScopeContext{
		UserID:           claims.UserID,
		PatientID:        patientID,
		AssignedPatients: claims.AssignedPatients,
	})
	monitoring.RecordAuthzDecision(string(resource), decisionLabel(decision.Granted))

	if !decision.Granted {
		// Denials are part of the trail; a failed audit write fails the
		// request rather than letting an unrecorded denial through.
		_, auditErr := s.audit.RecordAttempt(r.Context(), claims.UserID, string(action),
			string(resource), patientID, types.DecisionDenied, decision.Reason)
		if auditErr != nil {
			s.logger.WithError(auditErr).Error("Failed to record denied attempt")
			writeError(w, types.NewInternalError(types.ErrCodeInternal, "Audit write failed", auditErr))
			return
		}
		writeError(w, types.NewForbiddenError(types.ErrCodeAccessDenied, "Access denied"))
		return
	}

	attempt, err := s.audit.RecordAttempt(r.Context(), claims.UserID, string(action),
		string(resource), patientID, types.DecisionGranted, "")
	if err != nil {
		s.logger.WithError(err).Error("Failed to record attempt")
		writeError(w, types.NewInternalError(types.ErrCodeInternal, "Audit write failed", err))
		return
	}

	// Outcome writes must survive a client disconnect.
	auditCtx := context.WithoutCancel(r.Context())

	if route.Health == types.HealthUnhealthy {
		s.recordOutcome(auditCtx, attempt, types.OutcomeServiceUnavailable, 0, route.Name, 0)
		writeError(w, &types.GatewayError{
			Kind:    types.KindServiceUnavailable,
			Code:    types.ErrCodeBackendDown,
			Message: "Backend is unavailable",
		})
		return
	}

	s.forward(w, r, route, remainder, claims.UserID, action, attempt, auditCtx)
}

// forward proxies the request to the backend, retrying idempotent calls once
// on timeout.
func (s *Service) forward(w http.ResponseWriter, r *http.Request, route *types.ServiceRoute,
	remainder, userID string, action rbac.Action, attempt *types.AuditRecord, auditCtx context.Context) {

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.recordOutcome(auditCtx, attempt, types.OutcomeInternalError, 0, route.Name, 0)
		writeError(w, types.NewInternalError(types.ErrCodeInternal, "Failed to read request body", err))
		return
	}

	timeout := time.Duration(s.cfg.Proxy.TimeoutSeconds) * time.Second
	start := time.Now()

	// A fault while proxying must still leave an outcome record behind.
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.WithField("panic", rec).WithField("backend", route.Name).Error("Panic while proxying")
			s.recordOutcome(auditCtx, attempt, types.OutcomeInternalError, 0, route.Name, time.Since(start))
			writeError(w, &types.GatewayError{
				Kind:    types.KindBadGateway,
				Code:    types.ErrCodeBadGateway,
				Message: "Backend call failed",
			})
		}
	}()

	resp, err := s.doBackend(auditCtx, r, route, remainder, userID, body, timeout)
	if err != nil && isTimeout(err) && action.Idempotent() {
		time.Sleep(time.Duration(s.cfg.Proxy.RetryBackoffMillis) * time.Millisecond)
		resp, err = s.doBackend(auditCtx, r, route, remainder, userID, body, timeout)
	}
	latency := time.Since(start)

	if err != nil {
		if isTimeout(err) {
			s.recordOutcome(auditCtx, attempt, types.OutcomeBackendTimeout, 0, route.Name, latency)
			monitoring.RecordBackendRequest(route.Name, types.OutcomeBackendTimeout, latency)
			writeError(w, &types.GatewayError{
				Kind:    types.KindBackendTimeout,
				Code:    types.ErrCodeBackendTimeout,
				Message: "Backend did not respond in time",
			})
			return
		}
		s.logger.WithError(err).WithField("backend", route.Name).Error("Backend call failed")
		s.recordOutcome(auditCtx, attempt, types.OutcomeInternalError, 0, route.Name, latency)
		monitoring.RecordBackendRequest(route.Name, types.OutcomeInternalError, latency)
		writeError(w, &types.GatewayError{
			Kind:    types.KindBadGateway,
			Code:    types.ErrCodeBadGateway,
			Message: "Backend call failed",
		})
		return
	}
	defer resp.Body.Close()

	s.recordOutcome(auditCtx, attempt, types.OutcomeOK, resp.StatusCode, route.Name, latency)
	monitoring.RecordBackendRequest(route.Name, types.OutcomeOK, latency)

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.WithError(err).Debug("Client went away while streaming response")
	}
}

// doBackend issues one backend call with its own deadline.
func (s *Service) doBackend(ctx context.Context, r *http.Request, route *types.ServiceRoute,
	remainder, userID string, body []byte, timeout time.Duration) (*http.Response, error) {

	callCtx, cancel := context.WithTimeout(ctx, timeout)

	target := route.BaseURL + remainder
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(callCtx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	// The bearer token never leaves the gateway; backends trust the identity
	// headers instead.
	req.Header.Del("Authorization")
	req.Header.Set("X-User-ID", userID)
	// Append our immediate peer to the forwarding chain rather than
	// replacing it; hops recorded by the load balancer must survive.
	if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			host = prior + ", " + host
		}
		req.Header.Set("X-Forwarded-For", host)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The per-call context must outlive this function while the caller
	// streams the body; Close releases it.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (s *Service) recordOutcome(ctx context.Context, attempt *types.AuditRecord, outcome string,
	status int, backend string, latency time.Duration) {

	if err := s.audit.RecordOutcome(ctx, attempt, outcome, status, backend, latency); err != nil {
		s.logger.WithError(err).Error("Failed to record outcome")
	}
}

// cancelOnClose defers the per-call context cancel until the response body
// is fully consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func decisionLabel(granted bool) string {
	if granted {
		return string(types.DecisionGranted)
	}
	return string(types.DecisionDenied)
}

// resourceID extracts the subject identifier for scope checks: an explicit
// patient_id query parameter wins, else the second path segment of the
// forwarded path (collection/id).
func resourceID(r *http.Request, remainder string) string {
	if id := r.URL.Query().Get("patient_id"); id != "" {
		return id
	}
	segments := strings.Split(strings.Trim(remainder, "/"), "/")
	if len(segments) >= 2 && segments[1] != "" {
		return segments[1]
	}
	return ""
}
