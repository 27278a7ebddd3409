package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/pkg/jwtutil"
	"gopherai-cochat/internal/transport/http/response"
)

const (
	ContextUserIDKey   = "user_id"
	ContextUserNameKey = "user_name"
)

// AuthJWT verifies the bearer token minted by the identity service. Browsers
// cannot set headers on a websocket handshake, so the access_token query
// parameter is accepted as a fallback.
func AuthJWT(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c)
		if token == "" {
			response.Error(c, 401, response.CodeUnauthorized, reason)
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseToken(secret, issuer, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextUserNameKey, claims.Name)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, string) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if q := strings.TrimSpace(c.Query("access_token")); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", "invalid authorization scheme"
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)), "missing bearer token"
}

// UserID returns the authenticated user id set by AuthJWT.
func UserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}

// UserName returns the display name carried by the token, if any.
func UserName(c *gin.Context) string {
	name, _ := c.Get(ContextUserNameKey)
	s, _ := name.(string)
	return s
}
