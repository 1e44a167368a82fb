package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"checkout-service/utils"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey        = "userID"
	ServiceKeyHeader = "X-SERVICE-KEY"
)

func unauth(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

func bearer(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// AuthMiddleware requires a valid bearer token and stores its user id.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			unauth(c, "Authorization header required")
			return
		}
		uid, err := utils.ParseToken(secret, raw)
		if err != nil {
			unauth(c, "Invalid token")
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// OptionalAuth lets guests through but still rejects a malformed token.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			c.Next()
			return
		}
		uid, err := utils.ParseToken(secret, raw)
		if err != nil {
			unauth(c, "Invalid token")
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// UserID returns the authenticated user, if any.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	uid, ok := v.(int64)
	return uid, ok
}

// ServiceKey guards internal callbacks with a shared key.
func ServiceKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(ServiceKeyHeader)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing service key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid service key"})
			return
		}
		c.Next()
	}
}
