package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := Identity{
			UserID:  claims.UserID,
			OrgID:   claims.OrgID,
			Role:    claims.Role,
			StaffID: claims.StaffID,
			Dept:    claims.Dept,
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("org_id", claims.OrgID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// IdentityFromWebsocketRequest authenticates a websocket upgrade request.
// Browsers cannot set headers on websocket dials, so the token may arrive
// either as a bearer header or as a "token" query parameter.
func IdentityFromWebsocketRequest(m *Manager, r *http.Request) (Identity, error) {
	tok := ""
	if raw := strings.TrimSpace(r.Header.Get(authorizationHeader)); strings.HasPrefix(raw, bearerPrefix) {
		tok = strings.TrimPrefix(raw, bearerPrefix)
	}
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}

	claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:  claims.UserID,
		OrgID:   claims.OrgID,
		Role:    claims.Role,
		StaffID: claims.StaffID,
		Dept:    claims.Dept,
	}, nil
}
