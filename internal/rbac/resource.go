package rbac

import (
	"fmt"
	"net/http"
)

// ResourceType is the closed enumeration of protected resource categories.
// Every proxied backend owns exactly one resource type.
type ResourceType string

const (
	ResourcePatientData     ResourceType = "PATIENT_DATA"
	ResourceDICOMStudy      ResourceType = "DICOM_STUDY"
	ResourceGenomicData     ResourceType = "GENOMIC_DATA"
	ResourceLabResults      ResourceType = "LAB_RESULTS"
	ResourceModelPrediction ResourceType = "MODEL_PREDICTION"
	ResourceAuditLog        ResourceType = "AUDIT_LOG"
)

// ParseResourceType validates a configured resource type string.
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(s); rt {
	case ResourcePatientData, ResourceDICOMStudy, ResourceGenomicData,
		ResourceLabResults, ResourceModelPrediction, ResourceAuditLog:
		return rt, nil
	default:
		return "", fmt.Errorf("unknown resource type: %q", s)
	}
}

// Action is the closed enumeration of operations on a resource.
type Action string

const (
	ActionRead    Action = "READ"
	ActionWrite   Action = "WRITE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionExecute Action = "EXECUTE"
)

// Idempotent reports whether the action may be safely retried by the gateway.
func (a Action) Idempotent() bool {
	return a == ActionRead
}

// ActionForRequest maps an HTTP method onto an Action. POST against a
// model-prediction backend is an inference invocation, not a data write.
func ActionForRequest(method string, resource ResourceType) (Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ActionRead, true
	case http.MethodPost:
		if resource == ResourceModelPrediction {
			return ActionExecute, true
		}
		return ActionWrite, true
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	default:
		return "", false
	}
}

// Scope narrows a permission's applicability.
type Scope string

const (
	// ScopeAny places no restriction on the subject of the request.
	ScopeAny Scope = "any"
	// ScopeAssigned restricts access to the caller's assigned patients.
	ScopeAssigned Scope = "assigned"
	// ScopeOwn restricts access to the caller's own records.
	ScopeOwn Scope = "own"
)
