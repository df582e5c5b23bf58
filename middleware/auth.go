package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/config"
)

const ActorIDKey = "actor_id"

// BearerToken returns the token from the Authorization header, falling back
// to the token query parameter used by WebSocket and EventSource clients.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the bearer JWT when sec.JWTSecret is set and stores its
// subject as the acting user. Without a secret every request passes and
// handlers trust the ids in the request.
func Auth(sec config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sec.JWTSecret == "" {
			c.Next()
			return
		}
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil || claims.Subject == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(ActorIDKey, claims.Subject)
		c.Next()
	}
}

// ActorID returns the authenticated user, or "" in anonymous mode.
func ActorID(c *gin.Context) string {
	if v, ok := c.Get(ActorIDKey); ok {
		return v.(string)
	}
	return ""
}

// RequireActor aborts with 403 unless the authenticated user is userID. In
// anonymous mode it always passes.
func RequireActor(c *gin.Context, userID string) bool {
	actor := ActorID(c)
	if actor == "" || actor == userID {
		return true
	}
	AbortWithError(c, apperr.ErrForbidden)
	return false
}
