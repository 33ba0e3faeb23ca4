package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateAndValidate(t *testing.T) {
	token, expiresAt, err := GenerateToken("alice", "user", testSecret, "crosspay", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ValidateToken(token, testSecret, "crosspay")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "user", claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	valid, _, err := GenerateToken("alice", "", testSecret, "crosspay", time.Hour)
	require.NoError(t, err)
	expired, _, err := GenerateToken("alice", "", testSecret, "crosspay", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"wrong secret", valid, "other", "crosspay"},
		{"wrong issuer", valid, testSecret, "someone-else"},
		{"expired", expired, testSecret, "crosspay"},
		{"garbage", "not.a.jwt", testSecret, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token, tt.secret, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestGenerateToken_RequiresSubject(t *testing.T) {
	_, _, err := GenerateToken(" ", "", testSecret, "", time.Hour)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}
