package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/scope"
	"github.com/iliyamo/carmod-studio/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,name,email,password_hash,role,admin_id,centre_name,location,credit_balance,email_verified,is_active,created_at,updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (model.User, error) {
	var (
		u       model.User
		role    string
		adminID sql.NullInt64
	)
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &adminID,
		&u.CentreName, &u.Location, &u.CreditBalance, &u.EmailVerified, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if adminID.Valid {
		id := uint64(adminID.Int64)
		u.AdminID = &id
	}
	return u, nil
}

// Create hashes password, inserts u and sets u.ID.
func (r *UserRepo) Create(ctx context.Context, u *model.User, password string, cost int) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, admin_id, centre_name, location, email_verified)
		 VALUES (?,?,?,?,?,?,?,?)`,
		u.Name, u.Email, hash, string(u.Role), nullableID(u.AdminID), u.CentreName, u.Location, u.EmailVerified)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.PasswordHash = hash
	u.IsActive = true
	return nil
}

// GetByEmail fetches an active user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? AND is_active=1 LIMIT 1", email))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id, active or not.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// ListOperators returns active operators visible through f, newest first.
func (r *UserRepo) ListOperators(ctx context.Context, f scope.Filter) ([]model.User, error) {
	clause, args := f.Where("admin_id")
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE role='operator' AND is_active=1 AND "+clause+" ORDER BY id DESC",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListAdmins returns every active admin.
func (r *UserRepo) ListAdmins(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE role='admin' AND is_active=1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UserChanges lists the columns a profile update may write.  Nil fields are
// left untouched; credit_balance, role and admin_id are never writable here.
type UserChanges struct {
	Name          *string
	Email         *string
	PasswordHash  *string
	CentreName    *string
	Location      *string
	EmailVerified *bool
}

func (c UserChanges) Empty() bool {
	return c.Name == nil && c.Email == nil && c.PasswordHash == nil &&
		c.CentreName == nil && c.Location == nil && c.EmailVerified == nil
}

// Update writes the non-nil columns of c to the user row.
func (r *UserRepo) Update(ctx context.Context, id uint64, c UserChanges) error {
	if c.Empty() {
		return nil
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if c.Name != nil {
		add("name", *c.Name)
	}
	if c.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*c.Email)))
	}
	if c.PasswordHash != nil {
		add("password_hash", *c.PasswordHash)
	}
	if c.CentreName != nil {
		add("centre_name", *c.CentreName)
	}
	if c.Location != nil {
		add("location", *c.Location)
	}
	if c.EmailVerified != nil {
		add("email_verified", *c.EmailVerified)
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=? AND is_active=1", args...)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PropagateCentre copies an admin's display fields onto all its operators.
func (r *UserRepo) PropagateCentre(ctx context.Context, adminID uint64, centre, location string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET centre_name=?, location=? WHERE admin_id=? AND role='operator'",
		centre, location, adminID)
	return err
}

// Deactivate soft-deletes a user.  The email stays on the row but leaves
// the unique active_email index, so it can be registered again.
func (r *UserRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=0 WHERE id=? AND is_active=1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateOperators soft-deletes every active operator of adminID and
// returns their ids so the caller can end their sessions.
func (r *UserRepo) DeactivateOperators(ctx context.Context, adminID uint64) ([]uint64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM users WHERE admin_id=? AND role='operator' AND is_active=1 FOR UPDATE", adminID)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET is_active=0 WHERE admin_id=? AND role='operator' AND is_active=1", adminID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Balance returns the stored credit balance of an active user.
func (r *UserRepo) Balance(ctx context.Context, id uint64) (int64, error) {
	var bal int64
	err := r.DB.QueryRowContext(ctx,
		"SELECT credit_balance FROM users WHERE id=? AND is_active=1", id).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return bal, err
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return *id
}
