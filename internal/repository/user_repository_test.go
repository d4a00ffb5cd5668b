package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "admin_id", "centre_name",
		"location", "credit_balance", "email_verified", "is_active", "created_at", "updated_at"})
}

func TestGetByIDMapsNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WithArgs(uint64(4)).
		WillReturnRows(userRows())

	_, err := NewUserRepo(db).GetByID(context.Background(), 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByIDOperatorAdminRef(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=?")).
		WillReturnRows(userRows().AddRow(30, "Op", "op@x.io", "hash", "operator", 7, "Centre", "Berlin", 0, true, true, now, now))

	u, err := NewUserRepo(db).GetByID(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, model.RoleOperator, u.Role)
	require.NotNil(t, u.AdminID)
	assert.Equal(t, uint64(7), *u.AdminID)
}

func TestListOperatorsScoped(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE role='operator' AND is_active=1 AND admin_id = ?")).
		WithArgs(uint64(7)).
		WillReturnRows(userRows())

	ops, err := NewUserRepo(db).ListOperators(context.Background(), scope.Owner(7))
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWritesOnlyGivenColumns(t *testing.T) {
	db, mock := newMockDB(t)
	name, centre := "New", "North"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET name=?, centre_name=? WHERE id=? AND is_active=1")).
		WithArgs("New", "North", uint64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewUserRepo(db).Update(context.Background(), 30, UserChanges{Name: &name, CentreName: &centre})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	email := "Taken@X.io"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET email=?")).
		WithArgs("taken@x.io", uint64(30)).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry"))

	err := NewUserRepo(db).Update(context.Background(), 30, UserChanges{Email: &email})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestDeactivateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_active=0")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, NewUserRepo(db).Deactivate(context.Background(), 9), ErrNotFound)
}

func TestDeactivateOperatorsOfAdmin(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE admin_id=? AND role='operator' AND is_active=1 FOR UPDATE")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10).AddRow(11))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_active=0 WHERE admin_id=? AND role='operator' AND is_active=1")).
		WithArgs(uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ids, err := NewUserRepo(db).DeactivateOperators(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateOperatorsNoneLeft(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE admin_id=?")).
		WithArgs(uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	ids, err := NewUserRepo(db).DeactivateOperators(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
