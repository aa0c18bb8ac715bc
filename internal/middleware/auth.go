// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"nutri-snap-go/pkg/log"
	"nutri-snap-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ownerKey 是 gin 上下文中保存调用方用户 ID 的键。
const ownerKey = "ownerID"

const bearerPrefix = "Bearer "

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// allowQueryToken 为 true 时也接受 ?token= 参数，供浏览器的 websocket 连接使用。
func AuthMiddleware(jwtManager *token.JWTManager, allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok && allowQueryToken {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Debugf("token 校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(ownerKey, claims.Owner())
		c.Next()
	}
}

// NotificationAuth 校验对象存储 webhook 携带的共享密钥。
func NotificationAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := bearerToken(c)
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的通知凭证"})
			return
		}
		c.Next()
	}
}

// OwnerID 返回认证中间件写入的用户 ID。
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	return tok, tok != ""
}
