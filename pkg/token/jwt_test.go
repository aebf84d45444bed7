package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestManager() *JWTManager {
	return NewJWTManager("test-secret", 1, 7)
}

func TestVerifyToken_AccessToken(t *testing.T) {
	m := newTestManager()
	tokenString, err := m.GenerateToken(42, "parent1", "USER")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tokenString)
	require.NoError(t, err)
	require.Equal(t, uint(42), claims.UserID)
	require.Equal(t, "parent1", claims.Username)
	require.Equal(t, "USER", claims.Role)
	require.Equal(t, TypeAccess, claims.TokenType)
}

// refresh token 不能当作 access token 通过认证。
func TestVerifyToken_RejectsRefreshToken(t *testing.T) {
	m := newTestManager()
	refresh, err := m.GenerateRefreshToken(42, "parent1", "USER")
	require.NoError(t, err)

	_, err = m.VerifyToken(refresh)
	require.Error(t, err)
}

func TestVerifyRefreshToken(t *testing.T) {
	m := newTestManager()
	refresh, err := m.GenerateRefreshToken(42, "parent1", "USER")
	require.NoError(t, err)

	claims, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	require.Equal(t, TypeRefresh, claims.TokenType)

	// access token 不能用于换发
	access, err := m.GenerateToken(42, "parent1", "USER")
	require.NoError(t, err)
	_, err = m.VerifyRefreshToken(access)
	require.Error(t, err)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	tokenString, err := newTestManager().GenerateToken(42, "parent1", "USER")
	require.NoError(t, err)

	other := NewJWTManager("other-secret", 1, 7)
	_, err = other.VerifyToken(tokenString)
	require.Error(t, err)
}

func TestGenerateRandomString(t *testing.T) {
	first := GenerateRandomString(16)
	second := GenerateRandomString(16)
	require.Len(t, first, 32) // 16 字节 = 32 个十六进制字符
	require.NotEqual(t, first, second)
}
