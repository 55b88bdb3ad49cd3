package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harpans/site/internal/auth/jwt"
)

// 上下文键
const (
	ContextSubject = "subject"
	ContextScope   = "scope"
)

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log.Named("auth"),
	}
}

// RequireScope 要求携带指定范围的令牌
func (ja *JWTAuth) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		if !claims.Allows(scope) {
			ja.log.Warn("token scope denied",
				zap.String("subject", claims.Subject),
				zap.String("scope", claims.Scope),
				zap.String("required", scope),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient scope",
			})
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextScope, claims.Scope)
		c.Next()
	}
}

// extractBearer 从 Authorization 头提取令牌
func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
