package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxOrgID
	ctxRole
	ctxStaffID
	ctxDept
)

// Identity is the authenticated caller as seen by internal modules.
type Identity struct {
	UserID  string
	OrgID   string
	Role    string
	StaffID string
	Dept    string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxOrgID, id.OrgID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	ctx = context.WithValue(ctx, ctxStaffID, id.StaffID)
	ctx = context.WithValue(ctx, ctxDept, id.Dept)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func OrgID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxOrgID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("org_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// StaffID returns the staff identifier, empty for non-staff callers.
func StaffID(ctx context.Context) string {
	if s, ok := ctx.Value(ctxStaffID).(string); ok {
		return s
	}
	return ""
}

// Dept returns the department code, empty when not set.
func Dept(ctx context.Context) string {
	if s, ok := ctx.Value(ctxDept).(string); ok {
		return s
	}
	return ""
}

// IdentityFrom rebuilds the full identity from context.
// Returns an error if the required fields are missing.
func IdentityFrom(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, err
	}
	oid, err := OrgID(ctx)
	if err != nil {
		return Identity{}, err
	}
	role, err := Role(ctx)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: uid, OrgID: oid, Role: role, StaffID: StaffID(ctx), Dept: Dept(ctx)}, nil
}
