package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/bioplatform/access-gateway/pkg/types"
)

// errorResponse is the envelope every non-2xx response uses.
type errorResponse struct {
	Error *types.GatewayError `json:"error"`
}

var kindStatus = map[types.ErrorKind]int{
	types.KindValidation:         http.StatusBadRequest,
	types.KindUnauthenticated:    http.StatusUnauthorized,
	types.KindForbidden:          http.StatusForbidden,
	types.KindTokenReuseDetected: http.StatusUnauthorized,
	types.KindAccountLocked:      http.StatusLocked,
	types.KindUsernameTaken:      http.StatusConflict,
	types.KindNotFound:           http.StatusNotFound,
	types.KindServiceUnavailable: http.StatusServiceUnavailable,
	types.KindBackendTimeout:     http.StatusGatewayTimeout,
	types.KindBadGateway:         http.StatusBadGateway,
	types.KindRateLimited:        http.StatusTooManyRequests,
	types.KindInternal:           http.StatusInternalServerError,
}

// httpStatusFor maps an error kind to its HTTP status.
func httpStatusFor(err error) int {
	if status, ok := kindStatus[types.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	gwErr, ok := err.(*types.GatewayError)
	if !ok {
		gwErr = &types.GatewayError{
			Kind:    types.KindInternal,
			Code:    types.ErrCodeInternal,
			Message: "Internal server error",
		}
	}
	writeJSON(w, httpStatusFor(gwErr), errorResponse{Error: gwErr})
}
