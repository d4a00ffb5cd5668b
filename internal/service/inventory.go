package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/scope"
)

type InventoryStore interface {
	List(ctx context.Context, f scope.Filter, q repository.InventoryQuery) ([]model.InventoryItem, error)
	GetByID(ctx context.Context, id uint64) (model.InventoryItem, error)
	Create(ctx context.Context, it *model.InventoryItem) error
	Update(ctx context.Context, id, adminID uint64, p model.InventoryPatch) (model.InventoryItem, error)
	Delete(ctx context.Context, id, adminID uint64) error
}

type InventoryService struct {
	store InventoryStore
}

func NewInventoryService(store InventoryStore) *InventoryService {
	return &InventoryService{store: store}
}

// InventoryInput is the body of a create request.
type InventoryInput struct {
	Name      string           `json:"name" validate:"required"`
	Quantity  *int             `json:"quantity" validate:"required,min=0"`
	Available *int             `json:"available" validate:"required,min=0"`
	Image     string           `json:"image"`
	Category  string           `json:"category" validate:"required"`
	Price     *decimal.Decimal `json:"price" validate:"required"`
}

func (s *InventoryService) List(ctx context.Context, p auth.Principal, requestedOwner *uint64, q repository.InventoryQuery) ([]model.InventoryItem, error) {
	f, err := p.Scope(requestedOwner)
	if err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, f, q)
	if err != nil {
		return nil, storeErr(err, "inventory item")
	}
	return items, nil
}

func (s *InventoryService) Get(ctx context.Context, p auth.Principal, id uint64) (model.InventoryItem, error) {
	f, err := p.Scope(nil)
	if err != nil {
		return model.InventoryItem{}, err
	}
	it, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.InventoryItem{}, storeErr(err, "inventory item")
	}
	if !f.Allows(it.AdminID) {
		return model.InventoryItem{}, apperr.Forbidden("inventory item belongs to another admin")
	}
	return it, nil
}

// Create stores a new item owned by the calling admin.
func (s *InventoryService) Create(ctx context.Context, p auth.Principal, in InventoryInput) (model.InventoryItem, error) {
	if !p.IsAdmin() {
		return model.InventoryItem{}, apperr.Forbidden("only admins can create inventory")
	}
	if err := validateStruct(in); err != nil {
		return model.InventoryItem{}, err
	}
	it := model.InventoryItem{
		Name:      in.Name,
		Quantity:  *in.Quantity,
		Available: *in.Available,
		Image:     in.Image,
		Category:  in.Category,
		Price:     in.Price.Round(2),
		AdminID:   p.UserID,
	}
	if it.Image == "" {
		it.Image = model.DefaultInventoryImage
	}
	if err := checkItem(it); err != nil {
		return model.InventoryItem{}, err
	}
	if err := s.store.Create(ctx, &it); err != nil {
		return model.InventoryItem{}, storeErr(err, "inventory item")
	}
	return it, nil
}

// Update merges patch over the stored item and validates the merged row
// before writing.  The store repeats the available <= quantity check inside
// its conditional UPDATE, which covers writers racing between the read and
// the write.
func (s *InventoryService) Update(ctx context.Context, p auth.Principal, id uint64, patch model.InventoryPatch) (model.InventoryItem, error) {
	if !p.IsAdmin() {
		return model.InventoryItem{}, apperr.Forbidden("only the owning admin can update inventory")
	}
	if patch.Empty() {
		return model.InventoryItem{}, apperr.Validation("no fields to update")
	}
	if err := validateStruct(patch); err != nil {
		return model.InventoryItem{}, err
	}
	if patch.Price != nil {
		rounded := patch.Price.Round(2)
		patch.Price = &rounded
	}
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.InventoryItem{}, storeErr(err, "inventory item")
	}
	if existing.AdminID != p.UserID {
		return model.InventoryItem{}, apperr.Forbidden("inventory item belongs to another admin")
	}
	if err := checkItem(patch.Apply(existing)); err != nil {
		return model.InventoryItem{}, err
	}
	updated, err := s.store.Update(ctx, id, p.UserID, patch)
	if err != nil {
		return model.InventoryItem{}, storeErr(err, "inventory item")
	}
	return updated, nil
}

func (s *InventoryService) Delete(ctx context.Context, p auth.Principal, id uint64) error {
	if !p.IsAdmin() {
		return apperr.Forbidden("only the owning admin can delete inventory")
	}
	return storeErr(s.store.Delete(ctx, id, p.UserID), "inventory item")
}

func checkItem(it model.InventoryItem) error {
	switch {
	case it.Quantity < 0:
		return fieldError("quantity", "must be at least 0")
	case it.Available < 0:
		return fieldError("available", "must be at least 0")
	case it.Available > it.Quantity:
		return fieldError("available", "must not exceed quantity")
	case it.Price.IsNegative():
		return fieldError("price", "must be at least 0")
	}
	return nil
}
