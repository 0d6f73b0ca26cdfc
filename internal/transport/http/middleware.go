package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-signaling/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyDisplayName is the context key for storing the display name.
	ContextKeyDisplayName = "display_name"
)

// authenticate resolves the caller from a bearer token (header or ?token=),
// falling back to ?user=&name= when anonymous access is enabled.
func authenticate(r *http.Request, authn auth.Authenticator) (auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return auth.Identity{}, auth.ErrUnauthenticated
		}
		token = parts[1]
	}

	if token != "" {
		return authn.Verify(r.Context(), token)
	}
	if authn.AllowAnonymous() {
		q := r.URL.Query()
		return authn.Anonymous(q.Get("user"), q.Get("name"))
	}
	return auth.Identity{}, auth.ErrUnauthenticated
}

// AuthMiddleware creates a middleware that resolves the caller's identity.
func AuthMiddleware(authn auth.Authenticator, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authenticate(c.Request, authn)
		if err != nil {
			logger.Debug().Err(err).Msg("unauthenticated request")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			c.Abort()
			return
		}

		// Store user info in context
		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyDisplayName, identity.DisplayName)

		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
