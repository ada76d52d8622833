package types

import "fmt"

// ErrorKind classifies gateway errors into the stable, machine-readable
// categories surfaced to clients.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindForbidden          ErrorKind = "forbidden"
	KindTokenReuseDetected ErrorKind = "token_reuse_detected"
	KindAccountLocked      ErrorKind = "account_locked"
	KindUsernameTaken      ErrorKind = "username_taken"
	KindNotFound           ErrorKind = "not_found"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindBackendTimeout     ErrorKind = "backend_timeout"
	KindBadGateway         ErrorKind = "bad_gateway"
	KindRateLimited        ErrorKind = "rate_limited"
	KindInternal           ErrorKind = "internal"
)

// GatewayError is the structured error used across the gateway. Every error
// returned to a client carries a stable Kind and Code plus a human-readable
// message; internal causes are never serialized.
type GatewayError struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	// Subject carries the affected user id for audit hooks on security
	// errors. Like Cause, it is never serialized.
	Subject string `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Code: code, Message: message}
}

// NewUnauthenticatedError creates a new authentication error.
func NewUnauthenticatedError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindUnauthenticated, Code: code, Message: message}
}

// NewForbiddenError creates a new authorization error.
func NewForbiddenError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindForbidden, Code: code, Message: message}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(code, message string) *GatewayError {
	return &GatewayError{Kind: KindNotFound, Code: code, Message: message}
}

// NewInternalError creates a new internal error wrapping its cause.
func NewInternalError(code, message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindInternal, Code: code, Message: message, Cause: cause}
}

// Common error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidMFA         = "INVALID_MFA"
	ErrCodeAccountLocked      = "ACCOUNT_LOCKED"
	ErrCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrCodeExpiredToken       = "EXPIRED_TOKEN"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeSessionRevoked     = "SESSION_REVOKED"
	ErrCodeTokenReuse         = "TOKEN_REUSE_DETECTED"
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeRouteNotFound      = "ROUTE_NOT_FOUND"
	ErrCodeBackendDown        = "SERVICE_UNAVAILABLE"
	ErrCodeBackendTimeout     = "BACKEND_TIMEOUT"
	ErrCodeBadGateway         = "BAD_GATEWAY"
	ErrCodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// KindOf extracts the ErrorKind from an error, defaulting to KindInternal
// for errors that did not originate in the gateway.
func KindOf(err error) ErrorKind {
	if ge, ok := err.(*GatewayError); ok {
		return ge.Kind
	}
	return KindInternal
}

// SubjectOf extracts the affected user id from a gateway error, if set.
func SubjectOf(err error) string {
	if ge, ok := err.(*GatewayError); ok {
		return ge.Subject
	}
	return ""
}
