package rbac

import (
	"net/http"

	"callbridge/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireOrg enforces the multi-tenant invariant: org_id must exist in context.
// This does not validate membership; that belongs to the authorization layer once persistence exists.
func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := auth.OrgID(c.Request.Context())
		if err != nil || oid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - tenant isolation is enforced via RequireOrg (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// admin bypasses all
		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
