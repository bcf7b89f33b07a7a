package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: OrgID must be present for all activity.
// StaffID and Dept are only meaningful for the staff role; clients leave them empty.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id"`
	Role      string    `json:"role"`
	StaffID   string    `json:"staff_id,omitempty"`
	Dept      string    `json:"dept,omitempty"`
	TokenType TokenType `json:"token_type"`
}
