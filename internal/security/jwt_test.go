package security_test

import (
	"testing"
	"time"

	"github.com/Rrens/flowbot/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-key-with-32-chars!!"

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager(secret, 15*time.Minute)

	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "ops@example.com", []string{"clinic", "shop"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, []string{"clinic", "shop"}, claims.Tenants)
	assert.True(t, claims.CanAccess("clinic"))
	assert.False(t, claims.CanAccess("bakery"))
}

func TestClaims_AllTenants(t *testing.T) {
	claims := &security.Claims{Tenants: []string{security.AllTenants}}
	assert.True(t, claims.CanAccess("anything"))
	assert.False(t, (&security.Claims{}).CanAccess("clinic"))
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := security.NewJWTManager(secret, 15*time.Minute)

	_, err := manager.ValidateAccessToken("invalid-token")
	assert.Error(t, err)

	_, err = manager.ValidateAccessToken("")
	assert.Error(t, err)

	other := security.NewJWTManager("different-secret-key-32-chars!!", 15*time.Minute)
	token, err := other.GenerateAccessToken(uuid.New(), "ops@example.com", nil)
	require.NoError(t, err)
	_, err = manager.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTManager_Expired(t *testing.T) {
	manager := security.NewJWTManager(secret, -time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "ops@example.com", []string{"clinic"})
	require.NoError(t, err)

	_, err = manager.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTManager_AccessTokenTTL(t *testing.T) {
	manager := security.NewJWTManager(secret, 30*time.Minute)
	assert.Equal(t, 30*time.Minute, manager.AccessTokenTTL())
}

func TestVerifySignature(t *testing.T) {
	key := []byte("app-secret")
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := security.Sign(key, body)

	assert.True(t, security.VerifySignature(key, body, header))
	assert.False(t, security.VerifySignature([]byte("other"), body, header))
	assert.False(t, security.VerifySignature(key, []byte(`{}`), header))
	assert.False(t, security.VerifySignature(key, body, "sha1=abc"))
	assert.False(t, security.VerifySignature(key, body, "sha256=zz"))
}

func BenchmarkJWTGeneration(b *testing.B) {
	manager := security.NewJWTManager(secret, 15*time.Minute)
	userID := uuid.New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.GenerateAccessToken(userID, "ops@example.com", []string{"clinic"})
	}
}
