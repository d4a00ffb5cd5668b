// Package scope computes the owner predicate applied to every collection
// query.  Tenant isolation lives here: repositories never build an owner
// clause on their own.
package scope

import (
	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/model"
)

// Filter narrows a query to one owning admin, or leaves it unconstrained.
// The zero value is unconstrained and is only produced for providers.
type Filter struct {
	owner *uint64
}

// For returns the filter for a caller with the given role.  selfID is the
// caller's user id and adminRef its owning admin (operators only).
// requestedOwner is honoured for providers only; admins are pinned to
// themselves and operators to their admin.
func For(role model.Role, selfID uint64, adminRef, requestedOwner *uint64) (Filter, error) {
	switch role {
	case model.RoleProvider:
		if requestedOwner != nil {
			return Owner(*requestedOwner), nil
		}
		return Filter{}, nil
	case model.RoleAdmin:
		return Owner(selfID), nil
	case model.RoleOperator:
		if adminRef == nil {
			return Filter{}, apperr.New(apperr.CodeUnscopedOperator, "operator is not linked to an admin")
		}
		return Owner(*adminRef), nil
	}
	return Filter{}, apperr.Forbidden("unknown role")
}

// Owner builds a filter pinned to id.
func Owner(id uint64) Filter {
	return Filter{owner: &id}
}

func (f Filter) Unconstrained() bool { return f.owner == nil }

// OwnerID reports the pinned owner, if any.
func (f Filter) OwnerID() (uint64, bool) {
	if f.owner == nil {
		return 0, false
	}
	return *f.owner, true
}

// Allows reports whether a row owned by owner is visible through f.
func (f Filter) Allows(owner uint64) bool {
	return f.owner == nil || *f.owner == owner
}

// Where renders the predicate for column as a SQL fragment with its
// arguments, e.g. ("admin_id = ?", [7]) or ("1=1", nil).
func (f Filter) Where(column string) (string, []any) {
	if f.owner == nil {
		return "1=1", nil
	}
	return column + " = ?", []any{*f.owner}
}
