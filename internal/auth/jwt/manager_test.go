package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "a-test-secret-that-is-long-enough-000"

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(testSecret, "harpans", time.Hour)

	token, exp, err := m.Issue("cms", ScopeHook)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "cms", claims.Subject)
	assert.Equal(t, ScopeHook, claims.Scope)
	assert.Equal(t, "harpans", claims.Issuer)
}

func TestManager_IssueRejectsUnknownScope(t *testing.T) {
	m := NewManager(testSecret, "harpans", time.Hour)

	_, _, err := m.Issue("cms", "superuser")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestManager_ValidateToken_Invalid(t *testing.T) {
	m := NewManager(testSecret, "harpans", time.Hour)

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "格式错误",
			token: func(t *testing.T) string { return "invalid-token" },
			want:  ErrInvalidToken,
		},
		{
			name: "密钥不同",
			token: func(t *testing.T) string {
				tok, _, err := NewManager("another-secret-another-secret-0000", "harpans", time.Hour).Issue("cms", ScopeHook)
				require.NoError(t, err)
				return tok
			},
			want: ErrInvalidToken,
		},
		{
			name: "签发者不同",
			token: func(t *testing.T) string {
				tok, _, err := NewManager(testSecret, "someone-else", time.Hour).Issue("cms", ScopeHook)
				require.NoError(t, err)
				return tok
			},
			want: ErrInvalidToken,
		},
		{
			name: "已过期",
			token: func(t *testing.T) string {
				old := NewManager(testSecret, "harpans", time.Minute)
				old.now = func() time.Time { return time.Now().Add(-time.Hour) }
				tok, _, err := old.Issue("cms", ScopeHook)
				require.NoError(t, err)
				return tok
			},
			want: ErrExpiredToken,
		},
		{
			name: "缺少范围",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "harpans", Subject: "cms"},
				})
				s, err := tok.SignedString([]byte(testSecret))
				require.NoError(t, err)
				return s
			},
			want: ErrInvalidToken,
		},
		{
			name: "签名算法为 none",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
					Scope:            ScopeAdmin,
					RegisteredClaims: jwt.RegisteredClaims{Issuer: "harpans"},
				})
				s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			want: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateToken(tt.token(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClaims_Allows(t *testing.T) {
	hook := &Claims{Scope: ScopeHook}
	admin := &Claims{Scope: ScopeAdmin}

	assert.True(t, hook.Allows(ScopeHook))
	assert.False(t, hook.Allows(ScopeAdmin))
	assert.True(t, admin.Allows(ScopeAdmin))
	assert.True(t, admin.Allows(ScopeHook))
}
