package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

// InventoryRepo stores inventory_items.  Ownership is part of every write's
// WHERE clause; the service never relies on a prior read to authorize.
type InventoryRepo struct{ DB *sql.DB }

func NewInventoryRepo(db *sql.DB) *InventoryRepo { return &InventoryRepo{DB: db} }

const inventoryColumns = "id,name,quantity,available,image,category,price,admin_id,created_at,updated_at"

func scanInventory(s rowScanner) (model.InventoryItem, error) {
	var it model.InventoryItem
	err := s.Scan(&it.ID, &it.Name, &it.Quantity, &it.Available, &it.Image, &it.Category,
		&it.Price, &it.AdminID, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// InventoryQuery holds the optional list filters.
type InventoryQuery struct {
	Category string
	Search   string
}

// List returns the items visible through f, ordered by name.
func (r *InventoryRepo) List(ctx context.Context, f scope.Filter, q InventoryQuery) ([]model.InventoryItem, error) {
	clause, args := f.Where("admin_id")
	query := "SELECT " + inventoryColumns + " FROM inventory_items WHERE " + clause
	if c := strings.TrimSpace(q.Category); c != "" {
		query += " AND category = ?"
		args = append(args, c)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+s+"%")
	}
	query += " ORDER BY name, id"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.InventoryItem{}
	for rows.Next() {
		it, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByID fetches one item regardless of owner.
func (r *InventoryRepo) GetByID(ctx context.Context, id uint64) (model.InventoryItem, error) {
	it, err := scanInventory(r.DB.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM inventory_items WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryItem{}, ErrNotFound
	}
	return it, err
}

// Create inserts it and fills in its ID.
func (r *InventoryRepo) Create(ctx context.Context, it *model.InventoryItem) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO inventory_items (name, quantity, available, image, category, price, admin_id)
		 VALUES (?,?,?,?,?,?,?)`,
		it.Name, it.Quantity, it.Available, it.Image, it.Category, it.Price.StringFixed(2), it.AdminID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	return nil
}

// Update applies patch to item id owned by adminID in a single statement.
// The WHERE clause re-checks available <= quantity against the merged row,
// so two concurrent patches can never leave the row inconsistent.  When no
// row matches, the cause is classified as ErrNotFound, ErrForbidden or
// ErrInvariant.
func (r *InventoryRepo) Update(ctx context.Context, id, adminID uint64, p model.InventoryPatch) (model.InventoryItem, error) {
	var price any
	if p.Price != nil {
		price = p.Price.StringFixed(2)
	}
	var image any
	if p.Image != nil && *p.Image != "" {
		image = *p.Image
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE inventory_items SET
		   name      = COALESCE(?, name),
		   quantity  = COALESCE(?, quantity),
		   available = COALESCE(?, available),
		   image     = COALESCE(?, image),
		   category  = COALESCE(?, category),
		   price     = COALESCE(?, price)
		 WHERE id = ? AND admin_id = ?
		   AND COALESCE(?, available) <= COALESCE(?, quantity)`,
		nullStr(p.Name), nullInt(p.Quantity), nullInt(p.Available), image, nullStr(p.Category), price,
		id, adminID,
		nullInt(p.Available), nullInt(p.Quantity))
	if err != nil {
		return model.InventoryItem{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.InventoryItem{}, r.classifyMiss(ctx, id, adminID)
	}
	return r.GetByID(ctx, id)
}

// Delete removes item id owned by adminID.
func (r *InventoryRepo) Delete(ctx context.Context, id, adminID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM inventory_items WHERE id=? AND admin_id=?", id, adminID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.classifyMiss(ctx, id, adminID)
	}
	return nil
}

// classifyMiss explains why a conditional write on id matched nothing.
func (r *InventoryRepo) classifyMiss(ctx context.Context, id, adminID uint64) error {
	var owner uint64
	err := r.DB.QueryRowContext(ctx,
		"SELECT admin_id FROM inventory_items WHERE id=?", id).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	case owner != adminID:
		return ErrForbidden
	}
	return ErrInvariant
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
