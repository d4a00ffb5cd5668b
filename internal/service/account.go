package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
	"github.com/iliyamo/carmod-studio/internal/utils"
)

type AccountStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	ListOperators(ctx context.Context, f scope.Filter) ([]model.User, error)
	ListAdmins(ctx context.Context) ([]model.User, error)
	Create(ctx context.Context, u *model.User, password string, cost int) error
	Update(ctx context.Context, id uint64, c repository.UserChanges) error
	PropagateCentre(ctx context.Context, adminID uint64, centre, location string) error
	Deactivate(ctx context.Context, id uint64) error
	DeactivateOperators(ctx context.Context, adminID uint64) ([]uint64, error)
}

// SessionRevoker ends every refresh session of a user.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// AccountService manages operator and admin accounts.
type AccountService struct {
	users      AccountStore
	sessions   SessionRevoker
	bcryptCost int
}

func NewAccountService(users AccountStore, sessions SessionRevoker, bcryptCost int) *AccountService {
	return &AccountService{users: users, sessions: sessions, bcryptCost: bcryptCost}
}

// Field allow-lists for profile updates.  Keys outside these sets are
// dropped without error.
var (
	operatorFields = map[string]bool{"name": true, "email": true, "password": true}
	adminFields    = map[string]bool{"name": true, "email": true, "password": true, "centre_name": true, "location": true, "email_verified": true}
)

type OperatorInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ---- operators ----

// CreateOperator adds an operator under the calling admin.  The operator
// inherits the admin's centre and location and starts verified.
func (s *AccountService) CreateOperator(ctx context.Context, p auth.Principal, in OperatorInput) (model.User, error) {
	if !p.IsAdmin() {
		return model.User{}, apperr.Forbidden("only admins can create operators")
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return model.User{}, err
	}
	admin, err := s.activeUser(ctx, p.UserID, model.RoleAdmin, "admin")
	if err != nil {
		return model.User{}, err
	}
	adminID := admin.ID
	u := model.User{
		Name:          strings.TrimSpace(in.Name),
		Email:         in.Email,
		Role:          model.RoleOperator,
		AdminID:       &adminID,
		CentreName:    admin.CentreName,
		Location:      admin.Location,
		EmailVerified: true,
	}
	if err := s.users.Create(ctx, &u, in.Password, s.bcryptCost); err != nil {
		return model.User{}, storeErr(err, "operator")
	}
	return u, nil
}

// ListOperators returns the operators visible to p.  Providers may narrow
// the list with adminID; admins always see their own.
func (s *AccountService) ListOperators(ctx context.Context, p auth.Principal, adminID *uint64) ([]model.User, error) {
	if p.IsOperator() {
		return nil, apperr.Forbidden("operators cannot list operators")
	}
	f, err := p.Scope(adminID)
	if err != nil {
		return nil, err
	}
	ops, err := s.users.ListOperators(ctx, f)
	if err != nil {
		return nil, storeErr(err, "operator")
	}
	return ops, nil
}

func (s *AccountService) GetOperator(ctx context.Context, p auth.Principal, id uint64) (model.User, error) {
	op, err := s.activeUser(ctx, id, model.RoleOperator, "operator")
	if err != nil {
		return model.User{}, err
	}
	if err := canTouchOperator(p, op); err != nil {
		return model.User{}, err
	}
	return op, nil
}

// UpdateOperator applies the allowed keys of fields to an operator.  Centre
// and location are always recopied from the operator's admin so they cannot
// drift.
func (s *AccountService) UpdateOperator(ctx context.Context, p auth.Principal, id uint64, fields map[string]any) (model.User, error) {
	op, err := s.activeUser(ctx, id, model.RoleOperator, "operator")
	if err != nil {
		return model.User{}, err
	}
	if err := canTouchOperator(p, op); err != nil {
		return model.User{}, err
	}
	if op.AdminID == nil {
		return model.User{}, apperr.New(apperr.CodeUnscopedOperator, "operator is not associated with any admin")
	}
	admin, err := s.activeUser(ctx, *op.AdminID, model.RoleAdmin, "admin")
	if err != nil {
		return model.User{}, err
	}

	changes, passwordChanged, err := s.profileChanges(fields, operatorFields)
	if err != nil {
		return model.User{}, err
	}
	changes.CentreName = &admin.CentreName
	changes.Location = &admin.Location
	if err := s.users.Update(ctx, id, changes); err != nil {
		return model.User{}, storeErr(err, "operator")
	}
	if passwordChanged {
		if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
			return model.User{}, storeErr(err, "operator")
		}
	}
	return s.activeUser(ctx, id, model.RoleOperator, "operator")
}

// DeleteOperator deactivates an operator and ends its sessions.  Only the
// provider or the operator's admin may do this.
func (s *AccountService) DeleteOperator(ctx context.Context, p auth.Principal, id uint64) error {
	if p.IsOperator() {
		return apperr.Forbidden("operators cannot delete accounts")
	}
	op, err := s.activeUser(ctx, id, model.RoleOperator, "operator")
	if err != nil {
		return err
	}
	if err := canTouchOperator(p, op); err != nil {
		return err
	}
	if err := s.users.Deactivate(ctx, id); err != nil {
		return storeErr(err, "operator")
	}
	return storeErr(s.sessions.RevokeAllForUser(ctx, id), "operator")
}

func canTouchOperator(p auth.Principal, op model.User) error {
	switch {
	case p.IsProvider():
		return nil
	case p.IsAdmin() && op.AdminID != nil && *op.AdminID == p.UserID:
		return nil
	case p.IsOperator() && op.ID == p.UserID:
		return nil
	}
	return apperr.Forbidden("operator belongs to another admin")
}

// ---- admins ----

// ListAdmins is the provider's view of every tenant.
func (s *AccountService) ListAdmins(ctx context.Context, p auth.Principal) ([]model.User, error) {
	if !p.IsProvider() {
		return nil, apperr.Forbidden("only the provider can list admins")
	}
	admins, err := s.users.ListAdmins(ctx)
	if err != nil {
		return nil, storeErr(err, "admin")
	}
	return admins, nil
}

func (s *AccountService) GetAdmin(ctx context.Context, p auth.Principal, id uint64) (model.User, error) {
	if err := canTouchAdmin(p, id); err != nil {
		return model.User{}, err
	}
	return s.activeUser(ctx, id, model.RoleAdmin, "admin")
}

// UpdateAdmin applies the allowed keys of fields to an admin account.
// email_verified is honoured for the provider only.  New centre or location
// values are copied to the admin's operators.
func (s *AccountService) UpdateAdmin(ctx context.Context, p auth.Principal, id uint64, fields map[string]any) (model.User, error) {
	if err := canTouchAdmin(p, id); err != nil {
		return model.User{}, err
	}
	if _, err := s.activeUser(ctx, id, model.RoleAdmin, "admin"); err != nil {
		return model.User{}, err
	}
	if !p.IsProvider() {
		delete(fields, "email_verified")
	}
	changes, passwordChanged, err := s.profileChanges(fields, adminFields)
	if err != nil {
		return model.User{}, err
	}
	if changes.Empty() {
		return model.User{}, apperr.Validation("no fields to update")
	}
	if err := s.users.Update(ctx, id, changes); err != nil {
		return model.User{}, storeErr(err, "admin")
	}
	updated, err := s.activeUser(ctx, id, model.RoleAdmin, "admin")
	if err != nil {
		return model.User{}, err
	}
	if changes.CentreName != nil || changes.Location != nil {
		if err := s.users.PropagateCentre(ctx, id, updated.CentreName, updated.Location); err != nil {
			return model.User{}, storeErr(err, "admin")
		}
	}
	if passwordChanged {
		if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
			return model.User{}, storeErr(err, "admin")
		}
	}
	return updated, nil
}

// DeleteAdmin deactivates an admin together with its operators and ends
// all of their sessions.
func (s *AccountService) DeleteAdmin(ctx context.Context, p auth.Principal, id uint64) error {
	if err := canTouchAdmin(p, id); err != nil {
		return err
	}
	if _, err := s.activeUser(ctx, id, model.RoleAdmin, "admin"); err != nil {
		return err
	}
	if err := s.users.Deactivate(ctx, id); err != nil {
		return storeErr(err, "admin")
	}
	if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
		return storeErr(err, "admin")
	}
	ops, err := s.users.DeactivateOperators(ctx, id)
	if err != nil {
		return storeErr(err, "operator")
	}
	for _, op := range ops {
		if err := s.sessions.RevokeAllForUser(ctx, op); err != nil {
			return storeErr(err, "operator")
		}
	}
	return nil
}

func canTouchAdmin(p auth.Principal, id uint64) error {
	if p.IsProvider() || (p.IsAdmin() && p.UserID == id) {
		return nil
	}
	return apperr.Forbidden("access to this admin is denied")
}

// ---- shared ----

// activeUser loads id and insists on role; wrong roles read as not found.
func (s *AccountService) activeUser(ctx context.Context, id uint64, role model.Role, what string) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, storeErr(err, what)
	}
	if !u.IsActive || u.Role != role {
		return model.User{}, apperr.NotFound(what + " not found")
	}
	return u, nil
}

// profileChanges converts the allowed keys of fields into column changes.
// Passwords are hashed here and never leave this function in plain text.
func (s *AccountService) profileChanges(fields map[string]any, allowed map[string]bool) (repository.UserChanges, bool, error) {
	var (
		c       repository.UserChanges
		details = map[string]string{}
		pwd     bool
	)
	str := func(key string) (string, bool) {
		v, ok := fields[key].(string)
		if !ok {
			details[key] = "must be a string"
		}
		return strings.TrimSpace(v), ok
	}
	for key := range fields {
		if !allowed[key] {
			continue
		}
		switch key {
		case "name", "centre_name", "location":
			v, ok := str(key)
			if !ok {
				continue
			}
			if key == "name" && v == "" {
				details[key] = "is required"
				continue
			}
			switch key {
			case "name":
				c.Name = &v
			case "centre_name":
				c.CentreName = &v
			case "location":
				c.Location = &v
			}
		case "email":
			v, ok := str(key)
			if !ok {
				continue
			}
			v = strings.ToLower(v)
			if err := validate.Var(v, "required,email"); err != nil {
				details[key] = "must be a valid email"
				continue
			}
			c.Email = &v
		case "password":
			v, ok := fields[key].(string)
			if !ok || len(v) < 6 || len(v) > utils.MaxPasswordBytes {
				details[key] = "must be between 6 and 72 characters"
				continue
			}
			hash, err := utils.HashPassword(v, s.bcryptCost)
			if err != nil {
				return c, false, apperr.Wrap(apperr.CodeUpstream, err, "hash password")
			}
			c.PasswordHash = &hash
			pwd = true
		case "email_verified":
			v, ok := fields[key].(bool)
			if !ok {
				details[key] = "must be a boolean"
				continue
			}
			c.EmailVerified = &v
		default:
			return c, false, fmt.Errorf("unhandled field %q", key)
		}
	}
	if len(details) > 0 {
		return c, false, apperr.Validation("validation failed").WithDetails(details)
	}
	return c, pwd, nil
}
