package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidScope 未知的令牌范围
	ErrInvalidScope = errors.New("invalid scope")
)

// 令牌范围
const (
	ScopeHook  = "hook"  // CMS 发布回调
	ScopeAdmin = "admin" // 管理接口（也可调用回调）
)

// ValidScope 判断范围是否合法
func ValidScope(scope string) bool {
	return scope == ScopeHook || scope == ScopeAdmin
}

// Claims JWT 自定义声明
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Allows 判断令牌是否可访问要求的范围，admin 覆盖 hook
func (c *Claims) Allows(required string) bool {
	if c.Scope == required {
		return true
	}
	return c.Scope == ScopeAdmin && required == ScopeHook
}

// Manager JWT 管理器
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewManager 创建 JWT 管理器
func NewManager(secret, issuer string, expiry time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue 为 subject 签发指定范围的访问令牌
func (m *Manager) Issue(subject, scope string) (string, time.Time, error) {
	if !ValidScope(scope) {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	now := m.now()
	expiresAt := now.Add(m.expiry)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !ValidScope(claims.Scope) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
