package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
	"github.com/iliyamo/carmod-studio/internal/utils"
)

type memUsers struct {
	mu      sync.Mutex
	users   map[uint64]model.User
	revoked map[uint64]int
}

func newMemUsers(users ...model.User) *memUsers {
	m := &memUsers{users: map[uint64]model.User{}, revoked: map[uint64]int{}}
	for _, u := range users {
		u.IsActive = true
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) ListOperators(_ context.Context, f scope.Filter) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.User{}
	for _, u := range m.users {
		if u.Role == model.RoleOperator && u.IsActive && u.AdminID != nil && f.Allows(*u.AdminID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memUsers) ListAdmins(context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.User{}
	for _, u := range m.users {
		if u.Role == model.RoleAdmin && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) Create(_ context.Context, u *model.User, password string, cost int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.IsActive && other.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	u.ID = uint64(1000 + len(m.users))
	u.PasswordHash = hash
	u.IsActive = true
	m.users[u.ID] = *u
	return nil
}

func (m *memUsers) Update(_ context.Context, id uint64, c repository.UserChanges) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.IsActive {
		return repository.ErrNotFound
	}
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.PasswordHash != nil {
		u.PasswordHash = *c.PasswordHash
	}
	if c.CentreName != nil {
		u.CentreName = *c.CentreName
	}
	if c.Location != nil {
		u.Location = *c.Location
	}
	if c.EmailVerified != nil {
		u.EmailVerified = *c.EmailVerified
	}
	m.users[id] = u
	return nil
}

func (m *memUsers) PropagateCentre(_ context.Context, adminID uint64, centre, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Role == model.RoleOperator && u.AdminID != nil && *u.AdminID == adminID {
			u.CentreName, u.Location = centre, location
			m.users[id] = u
		}
	}
	return nil
}

func (m *memUsers) Deactivate(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.IsActive {
		return repository.ErrNotFound
	}
	u.IsActive = false
	m.users[id] = u
	return nil
}

func (m *memUsers) DeactivateOperators(_ context.Context, adminID uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for id, u := range m.users {
		if u.Role == model.RoleOperator && u.IsActive && u.AdminID != nil && *u.AdminID == adminID {
			u.IsActive = false
			m.users[id] = u
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memUsers) RevokeAllForUser(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[id]++
	return nil
}

func tenantUsers() *memUsers {
	return newMemUsers(
		model.User{ID: 100, Role: model.RoleProvider, Email: "root@carmod.test"},
		model.User{ID: 1, Role: model.RoleAdmin, Email: "a@carmod.test", CentreName: "North", Location: "Leeds"},
		model.User{ID: 2, Role: model.RoleAdmin, Email: "b@carmod.test", CentreName: "South", Location: "Bristol"},
		model.User{ID: 10, Role: model.RoleOperator, Email: "op-a@carmod.test", AdminID: u64(1), CentreName: "stale"},
		model.User{ID: 20, Role: model.RoleOperator, Email: "op-b@carmod.test", AdminID: u64(2)},
	)
}

func TestOperatorUpdateAllowList(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)

	got, err := svc.UpdateOperator(context.Background(), adminA, 10, map[string]any{
		"name":           "Renamed",
		"credit_balance": 9999,
		"role":           "admin",
		"admin_id":       2,
		"centre_name":    "Elsewhere",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, model.RoleOperator, got.Role)
	assert.Equal(t, uint64(1), *got.AdminID)
	assert.Equal(t, "North", got.CentreName, "centre recopied from admin")
	assert.Equal(t, "Leeds", got.Location)
	assert.Zero(t, got.CreditBalance)
	assert.Zero(t, users.revoked[10])
}

func TestOperatorPasswordIsHashedAndSessionsRevoked(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)

	_, err := svc.UpdateOperator(context.Background(), opA, 10, map[string]any{"password": "s3cret-pass"})
	require.NoError(t, err)
	stored, _ := users.GetByID(context.Background(), 10)
	assert.NotEqual(t, "s3cret-pass", stored.PasswordHash)
	assert.True(t, utils.VerifyPassword(stored.PasswordHash, "s3cret-pass"))
	assert.Equal(t, 1, users.revoked[10])

	_, err = svc.UpdateOperator(context.Background(), opA, 10, map[string]any{"password": "123"})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestOperatorAuthorizationMatrix(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		who  auth.Principal
		id   uint64
		ok   bool
	}{
		{"provider any", provider, 20, true},
		{"admin own", adminA, 10, true},
		{"admin other", adminA, 20, false},
		{"admin b other", adminB, 10, false},
		{"operator self", opA, 10, true},
		{"operator other", opA, 20, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			users := tenantUsers()
			svc := NewAccountService(users, users, bcrypt.MinCost)
			_, getErr := svc.GetOperator(ctx, tc.who, tc.id)
			_, updErr := svc.UpdateOperator(ctx, tc.who, tc.id, map[string]any{"name": "x"})
			if tc.ok {
				assert.NoError(t, getErr)
				assert.NoError(t, updErr)
				return
			}
			assert.True(t, apperr.Is(getErr, apperr.CodeForbidden))
			assert.True(t, apperr.Is(updErr, apperr.CodeForbidden))
		})
	}
}

func TestOperatorDeleteIsSoft(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)
	ctx := context.Background()

	assert.True(t, apperr.Is(svc.DeleteOperator(ctx, opA, 10), apperr.CodeForbidden))
	assert.True(t, apperr.Is(svc.DeleteOperator(ctx, adminB, 10), apperr.CodeForbidden))
	require.NoError(t, svc.DeleteOperator(ctx, adminA, 10))

	row, err := users.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.False(t, row.IsActive)
	assert.Equal(t, 1, users.revoked[10])

	_, err = svc.GetOperator(ctx, adminA, 10)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestCreateOperatorInheritsCentre(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)

	op, err := svc.CreateOperator(context.Background(), adminB, OperatorInput{Name: "New", Email: " New@Carmod.test ", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "new@carmod.test", op.Email)
	assert.Equal(t, uint64(2), *op.AdminID)
	assert.Equal(t, "South", op.CentreName)
	assert.True(t, op.EmailVerified)

	_, err = svc.CreateOperator(context.Background(), adminB, OperatorInput{Name: "Dup", Email: "new@carmod.test", Password: "password1"})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))

	_, err = svc.CreateOperator(context.Background(), opA, OperatorInput{Name: "x", Email: "x@carmod.test", Password: "password1"})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestListOperatorsScoped(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)
	ctx := context.Background()

	got, err := svc.ListOperators(ctx, adminA, u64(2))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(10), got[0].ID)

	got, err = svc.ListOperators(ctx, provider, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.ListOperators(ctx, opA, nil)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestAdminUpdatePropagatesCentre(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)
	ctx := context.Background()

	got, err := svc.UpdateAdmin(ctx, adminA, 1, map[string]any{
		"centre_name":    "North Works",
		"email_verified": true,
		"credit_balance": 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "North Works", got.CentreName)
	assert.False(t, got.EmailVerified, "only the provider may verify")
	assert.Zero(t, got.CreditBalance)

	op, _ := users.GetByID(ctx, 10)
	assert.Equal(t, "North Works", op.CentreName)
	assert.Equal(t, "Leeds", op.Location)

	got, err = svc.UpdateAdmin(ctx, provider, 1, map[string]any{"email_verified": true})
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)

	_, err = svc.UpdateAdmin(ctx, adminB, 1, map[string]any{"name": "x"})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	_, err = svc.UpdateAdmin(ctx, adminA, 1, map[string]any{"email": "not-an-email"})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestAdminListAndDelete(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)
	ctx := context.Background()

	_, err := svc.ListAdmins(ctx, adminA)
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	admins, err := svc.ListAdmins(ctx, provider)
	require.NoError(t, err)
	assert.Len(t, admins, 2)

	_, err = svc.GetAdmin(ctx, provider, 10)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "operator id is not an admin")

	require.NoError(t, svc.DeleteAdmin(ctx, provider, 2))
	_, err = svc.GetAdmin(ctx, provider, 2)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestDeleteAdminRetiresItsOperators(t *testing.T) {
	users := tenantUsers()
	svc := NewAccountService(users, users, bcrypt.MinCost)
	ctx := context.Background()

	require.NoError(t, svc.DeleteAdmin(ctx, adminA, 1))

	op, err := users.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.False(t, op.IsActive)
	assert.Equal(t, 1, users.revoked[1])
	assert.Equal(t, 1, users.revoked[10])

	other, err := users.GetByID(ctx, 20)
	require.NoError(t, err)
	assert.True(t, other.IsActive, "other tenants untouched")
	assert.Zero(t, users.revoked[20])

	resolved, err := auth.NewResolver(users).Resolve(ctx, 10)
	assert.True(t, apperr.Is(err, apperr.CodePrincipalNotFound), "got %v %+v", err, resolved)
}
