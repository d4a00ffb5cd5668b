package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// DefaultInventoryImage is used when an item is created without an image.
const DefaultInventoryImage = "/api/placeholder/100/100"

// InventoryItem is a part or accessory stocked by an admin's centre.  Each
// item belongs to exactly one admin.  Available never exceeds Quantity.
type InventoryItem struct {
    ID        uint64          `json:"id"`         // inventory_items.id
    Name      string          `json:"name"`       // inventory_items.name
    Quantity  int             `json:"quantity"`   // inventory_items.quantity
    Available int             `json:"available"`  // inventory_items.available
    Image     string          `json:"image"`      // inventory_items.image
    Category  string          `json:"category"`   // inventory_items.category
    Price     decimal.Decimal `json:"price"`      // inventory_items.price DECIMAL(12,2)
    AdminID   uint64          `json:"admin_id"`   // inventory_items.admin_id
    CreatedAt time.Time       `json:"created_at"` // inventory_items.created_at
    UpdatedAt time.Time       `json:"updated_at"` // inventory_items.updated_at
}

// InventoryPatch carries the columns an update may touch.  Nil fields keep
// the stored value.
type InventoryPatch struct {
    Name      *string          `json:"name" validate:"omitempty,min=1"`
    Quantity  *int             `json:"quantity" validate:"omitempty,min=0"`
    Available *int             `json:"available" validate:"omitempty,min=0"`
    Image     *string          `json:"image"`
    Category  *string          `json:"category" validate:"omitempty,min=1"`
    Price     *decimal.Decimal `json:"price"`
}

// Empty reports whether the patch changes nothing.
func (p InventoryPatch) Empty() bool {
    return p.Name == nil && p.Quantity == nil && p.Available == nil &&
        p.Image == nil && p.Category == nil && p.Price == nil
}

// Apply returns a copy of item with the patch merged over it.
func (p InventoryPatch) Apply(item InventoryItem) InventoryItem {
    if p.Name != nil {
        item.Name = *p.Name
    }
    if p.Quantity != nil {
        item.Quantity = *p.Quantity
    }
    if p.Available != nil {
        item.Available = *p.Available
    }
    if p.Image != nil && *p.Image != "" {
        item.Image = *p.Image
    }
    if p.Category != nil {
        item.Category = *p.Category
    }
    if p.Price != nil {
        item.Price = *p.Price
    }
    return item
}
