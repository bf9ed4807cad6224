package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/authorization"
	"github.com/jijenga/referral/internal/observability/obscontext"
)

const principalKey = "auth.principal"

// PrincipalFromGin returns the principal set by the middleware, if any.
func PrincipalFromGin(c *gin.Context) *domain.Principal {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := value.(*domain.Principal)
	return principal
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware authenticates the bearer token and stores the principal on
// the request context for downstream handlers and logging.
func Middleware(svc domain.Service, kind domain.PrincipalKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := svc.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil || principal.Kind != kind {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(principalKey, principal)
		ctx := obscontext.WithActor(c.Request.Context(), principal.ID.String(), string(principal.Kind))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireCapability enforces a casbin capability for the authenticated
// admin. It must run after Middleware.
func RequireCapability(authz authorization.Service, object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromGin(c)
		if principal == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := authz.Authorize(c.Request.Context(), principal.Actor(), object, action); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
