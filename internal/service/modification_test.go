package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/model"
)

type memModifications struct {
	mu   sync.Mutex
	rows []model.Modification
}

func (m *memModifications) Create(_ context.Context, mod *model.Modification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod.ID = uint64(len(m.rows) + 1)
	m.rows = append(m.rows, *mod)
	return nil
}

// ListByOperator returns rows in insertion order so the service ordering is
// what the tests observe.
func (m *memModifications) ListByOperator(_ context.Context, operatorID uint64) ([]model.Modification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Modification{}
	for _, r := range m.rows {
		if r.OperatorID == operatorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func rimsInput(operatorID uint64) ModificationInput {
	return ModificationInput{
		OperatorID:          operatorID,
		OriginalImageURL:    "/segments/1/original.jpg",
		ModifiedImageURL:    "/segments/1/modified.jpg",
		ModificationType:    "rims",
		VehiclePart:         "wheel",
		Description:         "chrome rims",
		ModificationDetails: json.RawMessage(`{"size":"19in"}`),
	}
}

func TestModificationCreateDefaults(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewModificationService(&memModifications{})
	svc.now = func() time.Time { return fixed }

	m, err := svc.Create(context.Background(), opA, rimsInput(opA.UserID))
	require.NoError(t, err)
	assert.Equal(t, model.ModificationSaved, m.Status)
	assert.Equal(t, fixed, m.Timestamp)
	assert.Equal(t, `{"size":"19in"}`, m.ModificationDetails)
	assert.Equal(t, opA.UserID, m.OperatorID)
}

func TestModificationDetailsString(t *testing.T) {
	svc := NewModificationService(&memModifications{})
	in := rimsInput(opA.UserID)
	in.ModificationDetails = json.RawMessage(`"{\"color\":\"red\"}"`)
	in.Status = "Pending"

	m, err := svc.Create(context.Background(), opA, in)
	require.NoError(t, err)
	assert.Equal(t, `{"color":"red"}`, m.ModificationDetails)
	assert.Equal(t, model.ModificationPending, m.Status)
}

func TestModificationForbiddenBeforeValidation(t *testing.T) {
	svc := NewModificationService(&memModifications{})
	_, err := svc.Create(context.Background(), opA, ModificationInput{OperatorID: opB.UserID})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden), "got %v", err)

	_, err = svc.Create(context.Background(), adminA, rimsInput(adminA.UserID))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}

func TestModificationValidation(t *testing.T) {
	svc := NewModificationService(&memModifications{})
	cases := map[string]func(in *ModificationInput){
		"no original":  func(in *ModificationInput) { in.OriginalImageURL = "" },
		"no modified":  func(in *ModificationInput) { in.ModifiedImageURL = "" },
		"no type":      func(in *ModificationInput) { in.ModificationType = "" },
		"no part":      func(in *ModificationInput) { in.VehiclePart = "" },
		"no details":   func(in *ModificationInput) { in.ModificationDetails = nil },
		"null details": func(in *ModificationInput) { in.ModificationDetails = json.RawMessage("null") },
		"bad status":   func(in *ModificationInput) { in.Status = "Rejected" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := rimsInput(opA.UserID)
			mutate(&in)
			_, err := svc.Create(context.Background(), opA, in)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
		})
	}
}

func TestModificationListNewestFirst(t *testing.T) {
	store := &memModifications{}
	svc := NewModificationService(store)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, offset := range []int{2, 5, 1, 5, 3} {
		in := rimsInput(opA.UserID)
		ts := base.Add(time.Duration(offset) * time.Hour)
		in.Timestamp = &ts
		_, err := svc.Create(context.Background(), opA, in)
		require.NoError(t, err)
	}

	got, err := svc.List(context.Background(), opA, nil)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
	assert.Equal(t, uint64(4), got[0].ID, "ties broken by id desc")
	assert.Equal(t, uint64(2), got[1].ID)

	_, err = svc.List(context.Background(), opA, u64(opB.UserID))
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
}
