package rbac

// DefaultRoles is the static role table the gateway ships with. It is loaded
// once at startup; role changes are a redeploy, not a runtime mutation.
func DefaultRoles() []Role {
	return []Role{
		{
			Name: "patient",
			Grants: []Permission{
				{Resource: ResourcePatientData, Action: ActionRead, Scope: ScopeOwn},
				{Resource: ResourceDICOMStudy, Action: ActionRead, Scope: ScopeOwn},
				{Resource: ResourceGenomicData, Action: ActionRead, Scope: ScopeOwn},
				{Resource: ResourceLabResults, Action: ActionRead, Scope: ScopeOwn},
			},
		},
		{
			Name: "nurse",
			Grants: []Permission{
				{Resource: ResourcePatientData, Action: ActionRead, Scope: ScopeAssigned},
				{Resource: ResourcePatientData, Action: ActionUpdate, Scope: ScopeAssigned},
				{Resource: ResourceLabResults, Action: ActionRead, Scope: ScopeAssigned},
			},
		},
		{
			Name:     "physician",
			Inherits: []string{"nurse"},
			Grants: []Permission{
				{Resource: ResourcePatientData, Action: ActionWrite, Scope: ScopeAssigned},
				{Resource: ResourceDICOMStudy, Action: ActionRead, Scope: ScopeAssigned},
				{Resource: ResourceGenomicData, Action: ActionRead, Scope: ScopeAssigned},
				{Resource: ResourceLabResults, Action: ActionWrite, Scope: ScopeAssigned},
				{Resource: ResourceModelPrediction, Action: ActionExecute, Scope: ScopeAssigned},
			},
		},
		{
			Name: "radiologist",
			Grants: []Permission{
				{Resource: ResourceDICOMStudy, Action: ActionRead, Scope: ScopeAny},
				{Resource: ResourceDICOMStudy, Action: ActionWrite, Scope: ScopeAny},
				{Resource: ResourceModelPrediction, Action: ActionExecute, Scope: ScopeAny},
			},
		},
		{
			Name: "lab_technician",
			Grants: []Permission{
				{Resource: ResourceLabResults, Action: ActionRead, Scope: ScopeAny},
				{Resource: ResourceLabResults, Action: ActionWrite, Scope: ScopeAny},
			},
		},
		{
			Name: "researcher",
			Grants: []Permission{
				{Resource: ResourceGenomicData, Action: ActionRead, Scope: ScopeAny},
				{Resource: ResourceModelPrediction, Action: ActionExecute, Scope: ScopeAny},
			},
		},
		{
			Name: "auditor",
			Grants: []Permission{
				{Resource: ResourceAuditLog, Action: ActionRead, Scope: ScopeAny},
			},
		},
		{
			Name:     "admin",
			Inherits: []string{"physician", "radiologist", "lab_technician", "researcher", "auditor"},
			Grants: []Permission{
				{Resource: ResourcePatientData, Action: ActionRead, Scope: ScopeAny},
				{Resource: ResourcePatientData, Action: ActionDelete, Scope: ScopeAny},
			},
		},
	}
}

// RoleNames returns the names of the built-in roles, for registration
// validation.
func RoleNames() []string {
	roles := DefaultRoles()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names
}
