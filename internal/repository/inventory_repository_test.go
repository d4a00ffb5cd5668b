package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newInventoryMock(t *testing.T) (*InventoryRepo, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	return NewInventoryRepo(db), mock
}

func inventoryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "quantity", "available", "image", "category", "price", "admin_id", "created_at", "updated_at"})
}

func TestInventoryListAppliesScope(t *testing.T) {
	repo, mock := newInventoryMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory_items WHERE admin_id = ? AND category = ? ORDER BY name, id")).
		WithArgs(uint64(7), "Exterior").
		WillReturnRows(inventoryRows().AddRow(1, "Spoiler", 10, 10, model.DefaultInventoryImage, "Exterior", "199.99", 7, now, now))

	items, err := repo.List(context.Background(), scope.Owner(7), InventoryQuery{Category: "Exterior"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Spoiler", items[0].Name)
	assert.True(t, decimal.RequireFromString("199.99").Equal(items[0].Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryListUnconstrained(t *testing.T) {
	repo, mock := newInventoryMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory_items WHERE 1=1 ORDER BY name, id")).
		WillReturnRows(inventoryRows())

	items, err := repo.List(context.Background(), scope.Filter{}, InventoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryUpdateIsSingleConditionalStatement(t *testing.T) {
	repo, mock := newInventoryMock(t)
	now := time.Now().UTC()
	avail := 4

	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_items SET")).
		WithArgs(nil, nil, 4, nil, nil, nil, uint64(1), uint64(7), 4, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory_items WHERE id=?")).
		WithArgs(uint64(1)).
		WillReturnRows(inventoryRows().AddRow(1, "Spoiler", 10, 4, model.DefaultInventoryImage, "Exterior", "199.99", 7, now, now))

	it, err := repo.Update(context.Background(), 1, 7, model.InventoryPatch{Available: &avail})
	require.NoError(t, err)
	assert.Equal(t, 4, it.Available)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryUpdateClassifiesMiss(t *testing.T) {
	avail := 11
	cases := []struct {
		name  string
		owner *uint64
		want  error
	}{
		{"missing row", nil, ErrNotFound},
		{"other owner", ptr(uint64(8)), ErrForbidden},
		{"invariant", ptr(uint64(7)), ErrInvariant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newInventoryMock(t)
			mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_items SET")).
				WillReturnResult(sqlmock.NewResult(0, 0))
			q := mock.ExpectQuery(regexp.QuoteMeta("SELECT admin_id FROM inventory_items WHERE id=?")).WithArgs(uint64(1))
			if tc.owner == nil {
				q.WillReturnRows(sqlmock.NewRows([]string{"admin_id"}))
			} else {
				q.WillReturnRows(sqlmock.NewRows([]string{"admin_id"}).AddRow(*tc.owner))
			}

			_, err := repo.Update(context.Background(), 1, 7, model.InventoryPatch{Available: &avail})
			assert.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInventoryDeleteOtherOwner(t *testing.T) {
	repo, mock := newInventoryMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM inventory_items WHERE id=? AND admin_id=?")).
		WithArgs(uint64(3), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT admin_id FROM inventory_items")).
		WillReturnRows(sqlmock.NewRows([]string{"admin_id"}).AddRow(uint64(9)))

	err := repo.Delete(context.Background(), 3, 7)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryCreateFormatsPrice(t *testing.T) {
	repo, mock := newInventoryMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO inventory_items")).
		WithArgs("Spoiler", 10, 10, model.DefaultInventoryImage, "Exterior", "199.99", uint64(7)).
		WillReturnResult(sqlmock.NewResult(12, 1))

	it := &model.InventoryItem{Name: "Spoiler", Quantity: 10, Available: 10, Image: model.DefaultInventoryImage,
		Category: "Exterior", Price: decimal.RequireFromString("199.99"), AdminID: 7}
	require.NoError(t, repo.Create(context.Background(), it))
	assert.Equal(t, uint64(12), it.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptr[T any](v T) *T { return &v }
