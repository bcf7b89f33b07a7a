package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleClient = "client"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsStaff(role string) bool { return role == RoleStaff }
