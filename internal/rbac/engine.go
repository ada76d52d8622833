package rbac

import (
	"fmt"
	"slices"
)

// Permission grants one action on one resource type, narrowed by a scope.
type Permission struct {
	Resource ResourceType `json:"resource"`
	Action   Action       `json:"action"`
	Scope    Scope        `json:"scope"`
}

// Role names a set of granted permissions plus the roles it inherits from.
// Roles are configured at startup and immutable afterwards.
type Role struct {
	Name     string       `json:"name"`
	Inherits []string     `json:"inherits,omitempty"`
	Grants   []Permission `json:"grants"`
}

// ScopeContext carries the request-side facts a scope qualifier is checked
// against. AssignedPatients comes from the caller's token claims by default;
// an alternative resolver may source it elsewhere.
type ScopeContext struct {
	UserID           string
	PatientID        string
	AssignedPatients []string
}

// ScopeResolver decides whether a permission's scope is satisfied by the
// request context.
type ScopeResolver interface {
	Satisfied(scope Scope, ctx ScopeContext) bool
}

// ClaimScopeResolver resolves scopes purely from the token-derived context.
type ClaimScopeResolver struct{}

// Satisfied implements ScopeResolver. Scoped permissions require an
// identified subject; a request with no patient id matches only ScopeAny.
func (ClaimScopeResolver) Satisfied(scope Scope, ctx ScopeContext) bool {
	switch scope {
	case ScopeAny:
		return true
	case ScopeOwn:
		return ctx.PatientID != "" && ctx.PatientID == ctx.UserID
	case ScopeAssigned:
		return ctx.PatientID != "" && slices.Contains(ctx.AssignedPatients, ctx.PatientID)
	default:
		return false
	}
}

// Decision is the result of one authorization check.
type Decision struct {
	Granted      bool
	Reason       string
	MatchedScope Scope
}

// Engine resolves role sets against the static permission graph. The graph
// is flattened at construction time; Authorize touches no mutable state and
// is safe for unsynchronized concurrent use.
type Engine struct {
	effective map[string][]Permission
	resolver  ScopeResolver
}

// NewEngine builds an engine from a role table. A cycle in the inheritance
// graph is a configuration error and fails construction.
func NewEngine(roles []Role, resolver ScopeResolver) (*Engine, error) {
	if resolver == nil {
		resolver = ClaimScopeResolver{}
	}

	byName := make(map[string]*Role, len(roles))
	for i := range roles {
		r := &roles[i]
		if r.Name == "" {
			return nil, fmt.Errorf("role with empty name")
		}
		if _, dup := byName[r.Name]; dup {
			return nil, fmt.Errorf("duplicate role: %s", r.Name)
		}
		byName[r.Name] = r
	}

	eng := &Engine{
		effective: make(map[string][]Permission, len(roles)),
		resolver:  resolver,
	}

	// DFS with three-color marking: a grey node reached again is a cycle.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(roles))

	var flatten func(name string) ([]Permission, error)
	flatten = func(name string) ([]Permission, error) {
		role, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("role %s inherits unknown role", name)
		}
		switch color[name] {
		case grey:
			return nil, fmt.Errorf("cycle in role inheritance at %s", name)
		case black:
			return eng.effective[name], nil
		}

		color[name] = grey
		perms := append([]Permission(nil), role.Grants...)
		for _, parent := range role.Inherits {
			inherited, err := flatten(parent)
			if err != nil {
				return nil, err
			}
			perms = append(perms, inherited...)
		}
		color[name] = black
		eng.effective[name] = perms
		return perms, nil
	}

	for name := range byName {
		if _, err := flatten(name); err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// Authorize decides whether the role set may perform action on resource
// under the given scope context. There is no explicit deny: the absence of a
// matching grant is the only source of denial, so any match wins.
func (e *Engine) Authorize(roleSet []string, resource ResourceType, action Action, ctx ScopeContext) Decision {
	if len(roleSet) == 0 {
		return Decision{Granted: false, Reason: "no roles assigned"}
	}

	matched := false
	for _, name := range roleSet {
		for _, p := range e.effective[name] {
			if p.Resource != resource || p.Action != action {
				continue
			}
			matched = true
			if e.resolver.Satisfied(p.Scope, ctx) {
				return Decision{Granted: true, MatchedScope: p.Scope}
			}
		}
	}

	if matched {
		return Decision{Granted: false, Reason: "scope qualifier not satisfied"}
	}
	return Decision{Granted: false, Reason: fmt.Sprintf("no grant for %s on %s", action, resource)}
}

// EffectivePermissions returns the flattened permission set for a role.
// Intended for diagnostics; the returned slice must not be modified.
func (e *Engine) EffectivePermissions(role string) []Permission {
	return e.effective[role]
}
