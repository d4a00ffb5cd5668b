package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
)

func spoiler() InventoryInput {
	price := decimal.RequireFromString("199.99")
	return InventoryInput{Name: "Spoiler", Quantity: intp(10), Available: intp(10), Category: "Exterior", Price: &price}
}

func TestInventoryCreateDefaultsImage(t *testing.T) {
	svc := NewInventoryService(newMemInventory())
	it, err := svc.Create(context.Background(), adminA, spoiler())
	require.NoError(t, err)
	assert.NotZero(t, it.ID)
	assert.Equal(t, model.DefaultInventoryImage, it.Image)
	assert.Equal(t, uint64(1), it.AdminID)
}

func TestInventoryCreateValidation(t *testing.T) {
	svc := NewInventoryService(newMemInventory())
	neg := decimal.RequireFromString("-1")

	cases := map[string]func(in *InventoryInput){
		"missing name":        func(in *InventoryInput) { in.Name = "" },
		"missing quantity":    func(in *InventoryInput) { in.Quantity = nil },
		"missing available":   func(in *InventoryInput) { in.Available = nil },
		"missing category":    func(in *InventoryInput) { in.Category = "" },
		"missing price":       func(in *InventoryInput) { in.Price = nil },
		"negative quantity":   func(in *InventoryInput) { in.Quantity = intp(-1) },
		"available>quantity":  func(in *InventoryInput) { in.Available = intp(11) },
		"negative price":      func(in *InventoryInput) { in.Price = &neg },
		"negative available":  func(in *InventoryInput) { in.Available = intp(-2) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := spoiler()
			mutate(&in)
			_, err := svc.Create(context.Background(), adminA, in)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
		})
	}
}

func TestInventoryCreateRequiresAdmin(t *testing.T) {
	svc := NewInventoryService(newMemInventory())
	for _, p := range []auth.Principal{provider, opA} {
		_, err := svc.Create(context.Background(), p, spoiler())
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	}
}

func TestInventoryUpdateChecksMergedDocument(t *testing.T) {
	store := newMemInventory()
	svc := NewInventoryService(store)
	it, err := svc.Create(context.Background(), adminA, spoiler())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), adminA, it.ID, model.InventoryPatch{Quantity: intp(5)})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "quantity below stored available")

	_, err = svc.Update(context.Background(), adminA, it.ID, model.InventoryPatch{Available: intp(12)})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "available above stored quantity")

	got, err := svc.Update(context.Background(), adminA, it.ID, model.InventoryPatch{Quantity: intp(5), Available: intp(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
	assert.Equal(t, 5, got.Available)

	_, err = svc.Update(context.Background(), adminA, it.ID, model.InventoryPatch{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestInventoryCrossAdminMatrix(t *testing.T) {
	store := newMemInventory()
	svc := NewInventoryService(store)
	ctx := context.Background()
	a, err := svc.Create(ctx, adminA, spoiler())
	require.NoError(t, err)
	b, err := svc.Create(ctx, adminB, spoiler())
	require.NoError(t, err)

	for _, tc := range []struct {
		who  auth.Principal
		item model.InventoryItem
		own  bool
	}{
		{adminA, a, true}, {adminA, b, false}, {adminB, a, false}, {adminB, b, true},
	} {
		_, err := svc.Update(ctx, tc.who, tc.item.ID, model.InventoryPatch{Name: strp("x")})
		_, getErr := svc.Get(ctx, tc.who, tc.item.ID)
		if tc.own {
			assert.NoError(t, err)
			assert.NoError(t, getErr)
			continue
		}
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
		assert.True(t, apperr.Is(getErr, apperr.CodeForbidden))
		assert.True(t, apperr.Is(svc.Delete(ctx, tc.who, tc.item.ID), apperr.CodeForbidden))
	}

	assert.True(t, apperr.Is(svc.Delete(ctx, adminA, 999), apperr.CodeNotFound))
	_, err = svc.Update(ctx, opA, a.ID, model.InventoryPatch{Name: strp("x")})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestInventoryListScopes(t *testing.T) {
	svc := NewInventoryService(newMemInventory())
	ctx := context.Background()
	_, err := svc.Create(ctx, adminA, spoiler())
	require.NoError(t, err)
	_, err = svc.Create(ctx, adminB, spoiler())
	require.NoError(t, err)

	got, err := svc.List(ctx, adminA, u64(2), repository.InventoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].AdminID, "admin ignores requested owner")

	got, err = svc.List(ctx, opB, nil, repository.InventoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].AdminID)

	got, err = svc.List(ctx, provider, nil, repository.InventoryQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.List(ctx, provider, u64(1), repository.InventoryQuery{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.List(ctx, opLoose, nil, repository.InventoryQuery{})
	assert.True(t, apperr.Is(err, apperr.CodeUnscopedOperator))
}

// Interleaved writers patching quantity and available independently must
// never leave available above quantity.
func TestInventoryConcurrentUpdatesKeepInvariant(t *testing.T) {
	store := newMemInventory()
	svc := NewInventoryService(store)
	ctx := context.Background()
	it, err := svc.Create(ctx, adminA, spoiler())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				v := rng.Intn(11)
				var patch model.InventoryPatch
				if rng.Intn(2) == 0 {
					patch.Quantity = intp(v)
				} else {
					patch.Available = intp(v)
				}
				_, err := svc.Update(ctx, adminA, it.ID, patch)
				if err != nil && !apperr.Is(err, apperr.CodeValidation) {
					t.Errorf("unexpected error: %v", err)
				}
				cur, _ := store.GetByID(ctx, it.ID)
				if cur.Available > cur.Quantity {
					t.Errorf("invariant broken: available=%d quantity=%d", cur.Available, cur.Quantity)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	final, err := store.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, final.Available, final.Quantity)
}
