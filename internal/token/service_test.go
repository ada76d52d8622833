package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

type mockSessionRegistry struct {
	mock.Mock
}

func (m *mockSessionRegistry) Create(ctx context.Context, userID, origin, refreshHash string, expiresAt time.Time) (*types.Session, error) {
	args := m.Called(ctx, userID, origin, refreshHash, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func (m *mockSessionRegistry) Get(ctx context.Context, id string) (*types.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func (m *mockSessionRegistry) Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiry time.Time) (*types.Session, error) {
	args := m.Called(ctx, sessionID, presentedHash, newHash, newExpiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Session), args.Error(1)
}

func (m *mockSessionRegistry) Revoke(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type mockUserLookup struct {
	mock.Mock
}

func (m *mockUserLookup) GetByID(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func testConfig() Config {
	return Config{
		Secret:     []byte("test-secret-key-for-signing-only"),
		Issuer:     "bioplatform-access-gateway",
		Audience:   "bioplatform",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

func testUser() *types.User {
	return &types.User{
		ID:               uuid.New().String(),
		Username:         "drsmith",
		Roles:            []string{"physician"},
		AssignedPatients: []string{"patient-1", "patient-2"},
		IsActive:         true,
	}
}

func liveSession(userID string) *types.Session {
	return &types.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestIssueAndVerify(t *testing.T) {
	sessions := new(mockSessionRegistry)
	users := new(mockUserLookup)
	svc := NewService(testConfig(), sessions, users, logger.New("error"))

	user := testUser()
	session := liveSession(user.ID)

	sessions.On("Create", mock.Anything, user.ID, "10.0.0.1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(session, nil)
	sessions.On("Get", mock.Anything, session.ID).Return(session, nil)

	pair, err := svc.Issue(context.Background(), user, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, session.ID, pair.SessionID)
	assert.True(t, strings.HasPrefix(pair.RefreshToken, session.ID+"."))

	claims, err := svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, []string{"physician"}, claims.Roles)
	assert.Equal(t, []string{"patient-1", "patient-2"}, claims.AssignedPatients)
	assert.Equal(t, session.ID, claims.SessionID)
}

func TestVerifyAccess_WrongKeyRejected(t *testing.T) {
	sessions := new(mockSessionRegistry)
	svc := NewService(testConfig(), sessions, new(mockUserLookup), logger.New("error"))

	otherCfg := testConfig()
	otherCfg.Secret = []byte("a-completely-different-secret-key")
	other := NewService(otherCfg, sessions, new(mockUserLookup), logger.New("error"))

	user := testUser()
	session := liveSession(user.ID)
	sessions.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(session, nil)

	pair, err := other.Issue(context.Background(), user, "10.0.0.1")
	require.NoError(t, err)

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.Error(t, err)
	gwErr := &types.GatewayError{}
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrCodeInvalidSignature, gwErr.Code)
}

func TestVerifyAccess_ExpiredToken(t *testing.T) {
	sessions := new(mockSessionRegistry)
	svc := NewService(testConfig(), sessions, new(mockUserLookup), logger.New("error"))
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	user := testUser()
	session := liveSession(user.ID)
	sessions.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(session, nil)

	pair, err := svc.Issue(context.Background(), user, "10.0.0.1")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.Error(t, err)
	gwErr := &types.GatewayError{}
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrCodeExpiredToken, gwErr.Code)
}

func TestVerifyAccess_RevokedSessionRejected(t *testing.T) {
	sessions := new(mockSessionRegistry)
	svc := NewService(testConfig(), sessions, new(mockUserLookup), logger.New("error"))

	user := testUser()
	session := liveSession(user.ID)
	sessions.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(session, nil)

	pair, err := svc.Issue(context.Background(), user, "10.0.0.1")
	require.NoError(t, err)

	revoked := *session
	revoked.Revoked = true
	sessions.On("Get", mock.Anything, session.ID).Return(&revoked, nil)

	_, err = svc.VerifyAccess(context.Background(), pair.AccessToken)
	require.Error(t, err)
	gwErr := &types.GatewayError{}
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrCodeSessionRevoked, gwErr.Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	sessions := new(mockSessionRegistry)
	users := new(mockUserLookup)
	svc := NewService(testConfig(), sessions, users, logger.New("error"))

	user := testUser()
	session := liveSession(user.ID)

	sessions.On("Rotate", mock.Anything, session.ID, hashRefresh("old-secret"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(session, nil)
	users.On("GetByID", mock.Anything, user.ID).Return(user, nil)

	presented := session.ID + ".old-secret"
	pair, err := svc.Refresh(context.Background(), presented)
	require.NoError(t, err)
	assert.NotEqual(t, presented, pair.RefreshToken)
	assert.True(t, strings.HasPrefix(pair.RefreshToken, session.ID+"."))
	assert.NotEmpty(t, pair.AccessToken)
	sessions.AssertExpectations(t)
}

func TestRefresh_ReuseDetectedPropagates(t *testing.T) {
	sessions := new(mockSessionRegistry)
	svc := NewService(testConfig(), sessions, new(mockUserLookup), logger.New("error"))

	reuseErr := &types.GatewayError{
		Kind:    types.KindTokenReuseDetected,
		Code:    types.ErrCodeTokenReuse,
		Message: "Refresh token reuse detected",
	}
	sessions.On("Rotate", mock.Anything, "s1", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, reuseErr)

	_, err := svc.Refresh(context.Background(), "s1.stolen-secret")
	assert.Equal(t, types.KindTokenReuseDetected, types.KindOf(err))
}

func TestRefresh_DeactivatedUserRevokesSession(t *testing.T) {
	sessions := new(mockSessionRegistry)
	users := new(mockUserLookup)
	svc := NewService(testConfig(), sessions, users, logger.New("error"))

	user := testUser()
	user.IsActive = false
	session := liveSession(user.ID)

	sessions.On("Rotate", mock.Anything, session.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(session, nil)
	users.On("GetByID", mock.Anything, user.ID).Return(user, nil)
	sessions.On("Revoke", mock.Anything, session.ID).Return(nil)

	_, err := svc.Refresh(context.Background(), session.ID+".refresh-secret")
	require.Error(t, err)
	gwErr := &types.GatewayError{}
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrCodeSessionRevoked, gwErr.Code)
	sessions.AssertCalled(t, "Revoke", mock.Anything, session.ID)
}

func TestRefreshSecretHashIsStableAndOpaque(t *testing.T) {
	secret, hash, err := newRefreshSecret()
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, hashRefresh(secret))
	assert.NotContains(t, hash, secret)
	assert.NotContains(t, secret, ".")

	secret2, hash2, err := newRefreshSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, secret2)
	assert.NotEqual(t, hash, hash2)
}

func TestRefresh_MalformedTokenRejected(t *testing.T) {
	svc := NewService(testConfig(), new(mockSessionRegistry), new(mockUserLookup), logger.New("error"))

	_, err := svc.Refresh(context.Background(), "no-separator-here")
	require.Error(t, err)
	gwErr := &types.GatewayError{}
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, types.ErrCodeInvalidSignature, gwErr.Code)
}

func TestVerifyAccess_TamperedClaimsRejected(t *testing.T) {
	sessions := new(mockSessionRegistry)
	svc := NewService(testConfig(), sessions, new(mockUserLookup), logger.New("error"))

	// Token signed with alg=none must never validate.
	claims := &Claims{UserID: "u1", SessionID: "s1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "bioplatform-access-gateway",
		Audience:  jwt.ClaimStrings{"bioplatform"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(context.Background(), tokenString)
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}
