// Package auth turns an authenticated token subject into a Principal: the
// role and ownership linkage every service call is authorized against.
package auth

import (
	"context"
	"errors"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

// Principal is the identity making a request.  AdminID is set for operators
// only and is read from the user row, never from the token.
type Principal struct {
	UserID  uint64
	Role    model.Role
	AdminID *uint64
	Email   string
}

func (p Principal) IsProvider() bool { return p.Role == model.RoleProvider }
func (p Principal) IsAdmin() bool    { return p.Role == model.RoleAdmin }
func (p Principal) IsOperator() bool { return p.Role == model.RoleOperator }

// Scope returns the owner filter for p, see scope.For.
func (p Principal) Scope(requestedOwner *uint64) (scope.Filter, error) {
	return scope.For(p.Role, p.UserID, p.AdminID, requestedOwner)
}

// UserLookup is the subset of the user repository the resolver needs.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Resolver loads the user behind a token subject.
type Resolver struct {
	users UserLookup
}

func NewResolver(users UserLookup) *Resolver { return &Resolver{users: users} }

// Resolve returns the principal for userID.  A zero subject means no session
// was presented.  Users removed or deactivated after the token was issued,
// and operators whose admin is gone, yield PRINCIPAL_NOT_FOUND.
func (r *Resolver) Resolve(ctx context.Context, userID uint64) (Principal, error) {
	if userID == 0 {
		return Principal{}, apperr.New(apperr.CodeUnauthenticated, "authentication required")
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Principal{}, apperr.New(apperr.CodePrincipalNotFound, "user no longer exists")
		}
		return Principal{}, apperr.Wrap(apperr.CodeUpstream, err, "load principal")
	}
	if !u.IsActive || !u.Role.Valid() {
		return Principal{}, apperr.New(apperr.CodePrincipalNotFound, "user no longer exists")
	}
	p := Principal{UserID: u.ID, Role: u.Role, Email: u.Email}
	if u.Role == model.RoleOperator && u.AdminID != nil {
		if err := r.checkAdmin(ctx, *u.AdminID); err != nil {
			return Principal{}, err
		}
		id := *u.AdminID
		p.AdminID = &id
	}
	return p, nil
}

// checkAdmin is the secondary fetch for operators: the owning admin must
// still be an active admin, otherwise the operator belongs to no tenant.
func (r *Resolver) checkAdmin(ctx context.Context, adminID uint64) error {
	a, err := r.users.GetByID(ctx, adminID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodePrincipalNotFound, "operator's admin no longer exists")
	}
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstream, err, "load operator admin")
	}
	if !a.IsActive || a.Role != model.RoleAdmin {
		return apperr.New(apperr.CodePrincipalNotFound, "operator's admin no longer exists")
	}
	return nil
}
