// Package security resolves what a caller may do. Services receive the caller's Permissions
// explicitly and check them before doing any work.
package security

import (
	"context"
	"fmt"
	"slices"

	"github.com/clearspend/backend/internal/models"
	"github.com/google/uuid"
)

type Permission string

// Business-scoped permissions.
const (
	PermissionRead        Permission = "READ"
	PermissionManageFunds Permission = "MANAGE_FUNDS"
)

// Global permissions.
const (
	GlobalApplication     Permission = "APPLICATION"
	GlobalCustomerService Permission = "CUSTOMER_SERVICE"
)

type Permissions struct {
	UserID     string
	BusinessID uuid.UUID
	Business   []Permission
	Global     []Permission
}

// Application is the permission set background jobs run with.
func Application() Permissions {
	return Permissions{UserID: "system", Global: []Permission{GlobalApplication}}
}

func (p Permissions) HasGlobal(perm Permission) bool {
	return slices.Contains(p.Global, perm)
}

// Has reports whether the caller holds perm on businessID. APPLICATION holds every permission.
func (p Permissions) Has(businessID uuid.UUID, perm Permission) bool {
	if p.HasGlobal(GlobalApplication) {
		return true
	}
	if perm == PermissionRead && p.HasGlobal(GlobalCustomerService) {
		return true
	}
	return p.BusinessID == businessID && slices.Contains(p.Business, perm)
}

func Require(p Permissions, businessID uuid.UUID, perm Permission) error {
	if !p.Has(businessID, perm) {
		return fmt.Errorf("%w: %s on business %s", models.ErrForbidden, perm, businessID)
	}
	return nil
}

func RequireGlobal(p Permissions, perm Permission) error {
	if !p.HasGlobal(perm) {
		return fmt.Errorf("%w: global %s", models.ErrForbidden, perm)
	}
	return nil
}

type contextKey struct{}

func WithPermissions(ctx context.Context, p Permissions) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Permissions, bool) {
	p, ok := ctx.Value(contextKey{}).(Permissions)
	return p, ok
}
