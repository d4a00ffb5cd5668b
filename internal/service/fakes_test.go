package service

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

func u64(v uint64) *uint64 { return &v }
func intp(v int) *int      { return &v }
func strp(v string) *string { return &v }

var (
	adminA   = auth.Principal{UserID: 1, Role: model.RoleAdmin}
	adminB   = auth.Principal{UserID: 2, Role: model.RoleAdmin}
	provider = auth.Principal{UserID: 100, Role: model.RoleProvider}
	opA      = auth.Principal{UserID: 10, Role: model.RoleOperator, AdminID: u64(1)}
	opB      = auth.Principal{UserID: 20, Role: model.RoleOperator, AdminID: u64(2)}
	opLoose  = auth.Principal{UserID: 30, Role: model.RoleOperator}
)

// memInventory mirrors the repository's conditional UPDATE under a mutex.
type memInventory struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]model.InventoryItem
}

func newMemInventory() *memInventory {
	return &memInventory{items: map[uint64]model.InventoryItem{}}
}

func (m *memInventory) List(_ context.Context, f scope.Filter, q repository.InventoryQuery) ([]model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.InventoryItem{}
	for _, it := range m.items {
		if f.Allows(it.AdminID) && (q.Category == "" || q.Category == it.Category) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memInventory) GetByID(_ context.Context, id uint64) (model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return model.InventoryItem{}, repository.ErrNotFound
	}
	return it, nil
}

func (m *memInventory) Create(_ context.Context, it *model.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	it.ID = m.nextID
	m.items[it.ID] = *it
	return nil
}

func (m *memInventory) Update(_ context.Context, id, adminID uint64, p model.InventoryPatch) (model.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	switch {
	case !ok:
		return model.InventoryItem{}, repository.ErrNotFound
	case it.AdminID != adminID:
		return model.InventoryItem{}, repository.ErrForbidden
	}
	merged := p.Apply(it)
	if merged.Available > merged.Quantity {
		return model.InventoryItem{}, repository.ErrInvariant
	}
	m.items[id] = merged
	return merged, nil
}

func (m *memInventory) Delete(_ context.Context, id, adminID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	switch {
	case !ok:
		return repository.ErrNotFound
	case it.AdminID != adminID:
		return repository.ErrForbidden
	}
	delete(m.items, id)
	return nil
}
