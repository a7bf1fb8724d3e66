package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestFromTokenReadsSubject(t *testing.T) {
	exp := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	token := signedToken(t, jwt.MapClaims{"sub": "u42", "exp": exp.Unix()})

	cred, err := FromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u42", cred.UserID)
	assert.Equal(t, token, cred.Token)
	assert.Contains(t, cred.Version, "u42:", "version keys on subject and expiry")
}

func TestFromTokenFallsBackToUserIDClaim(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"user_id": "u7"})

	cred, err := FromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u7", cred.UserID)
}

func TestFromTokenRejectsGarbage(t *testing.T) {
	_, err := FromToken("not-a-jwt")
	assert.Error(t, err)
}

func TestFromTokenRejectsMissingSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"scope": "chat"})
	_, err := FromToken(token)
	assert.Error(t, err)
}

func TestRotationChangesVersion(t *testing.T) {
	h := NewHolder()
	assert.True(t, h.Current().Zero())

	t1 := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	t2 := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(2 * time.Hour).Unix()})

	c1, err := FromToken(t1)
	require.NoError(t, err)
	c2, err := FromToken(t2)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Version, c2.Version, "refresh forces a rebind")

	h.Rotate(c1)
	assert.Equal(t, c1, h.Current())
	h.Rotate(Credential{})
	assert.True(t, h.Current().Zero())
}
