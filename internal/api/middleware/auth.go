package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/auth"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/service"
)

const principalKey = "principal"

// TokenValidator resolves a bearer token to a principal.
type TokenValidator interface {
	Validate(token string) (*auth.Principal, error)
}

// PrincipalLoader reads the stored account behind a token subject.
type PrincipalLoader interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// Authenticate requires a valid bearer token whose account still exists and is
// active, and stores the principal on the request.
// Parameters:
//   - tokens: validator for the bearer token.
//   - users: loader for the account named by the token subject.
// Returns:
//   - gin.HandlerFunc: middleware that aborts with 401 on any failure.
func Authenticate(tokens TokenValidator, users PrincipalLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := auth.ExtractBearer(c.GetHeader("Authorization"))
		if raw == "" {
			abort(c, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		principal, err := tokens.Validate(raw)
		if err != nil {
			GetLogger(c).WithError(err).Debug("Rejected bearer token")
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		// Role and status come from the stored account, not the token claims.
		user, err := users.Get(c.Request.Context(), principal.UserID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				abort(c, http.StatusUnauthorized, "Account no longer exists")
				return
			}
			GetLogger(c).WithError(err).Error("Failed to load account")
			abort(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !user.IsActive {
			abort(c, http.StatusUnauthorized, "Account is disabled")
			return
		}
		principal.Email = user.Email
		principal.Role = user.Role

		c.Set(principalKey, principal)
		ctx := logger.SetUserID(c.Request.Context(), principal.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))
		c.Next()
	}
}

// RequireRoles lets the request through only when the principal holds one of roles.
// It must run after Authenticate.
func RequireRoles(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Authentication required")
			return
		}
		for _, r := range roles {
			if principal.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "Insufficient role")
	}
}

// CurrentPrincipal returns the authenticated caller.
func CurrentPrincipal(c *gin.Context) (*auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*auth.Principal)
	return p, ok && p != nil
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"status":     "error",
		"statusCode": status,
		"message":    message,
	})
}
