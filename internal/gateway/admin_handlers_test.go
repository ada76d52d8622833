package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioplatform/access-gateway/pkg/types"
)

func TestAdmin_AssignPatients(t *testing.T) {
	env := newTestEnv(t, nil)
	_, adminToken := env.addUser(t, []string{"admin"}, nil)
	caregiver, _ := env.addUser(t, []string{"physician"}, nil)

	rec := env.doJSON(http.MethodPut, "/admin/users/"+caregiver.ID+"/assignments",
		map[string]interface{}{"patients": []string{"patient-7", "patient-8"}}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.repo.GetByID(context.Background(), caregiver.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"patient-7", "patient-8"}, stored.AssignedPatients)
}

func TestAdmin_NonAdminForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	_, physicianToken := env.addUser(t, []string{"physician"}, nil)
	target, _ := env.addUser(t, []string{"nurse"}, nil)

	rec := env.doJSON(http.MethodPut, "/admin/users/"+target.ID+"/assignments",
		map[string]interface{}{"patients": []string{"patient-1"}}, physicianToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.doJSON(http.MethodDelete, "/admin/users/"+target.ID, nil, physicianToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_DeactivateKillsSessionsAndLogins(t *testing.T) {
	env := newTestEnv(t, nil)
	_, adminToken := env.addUser(t, []string{"admin"}, nil)
	user, access := env.addUser(t, []string{"physician"}, nil)

	rec := env.doJSON(http.MethodDelete, "/admin/users/"+user.ID, nil, adminToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Outstanding tokens die with their sessions.
	rec = env.doJSON(http.MethodGet, "/auth/sessions", nil, access)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// And the account no longer accepts its password.
	rec = env.doJSON(http.MethodPost, "/auth/login", types.Credentials{
		Username: user.Username,
		Password: "correct-horse-battery",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
