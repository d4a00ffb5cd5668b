package service

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/model"
)

type ModificationStore interface {
	Create(ctx context.Context, m *model.Modification) error
	ListByOperator(ctx context.Context, operatorID uint64) ([]model.Modification, error)
}

type ModificationService struct {
	store ModificationStore
	now   func() time.Time
}

func NewModificationService(store ModificationStore) *ModificationService {
	return &ModificationService{store: store, now: time.Now}
}

// ModificationInput is the body of a save request.  ModificationDetails may
// be a JSON string or any other JSON value; non-strings are kept as their
// raw JSON text.
type ModificationInput struct {
	OperatorID          uint64          `json:"operator_id"`
	OriginalImageURL    string          `json:"original_image_url" validate:"required"`
	ModifiedImageURL    string          `json:"modified_image_url" validate:"required"`
	ModificationType    string          `json:"modification_type" validate:"required"`
	VehiclePart         string          `json:"vehicle_part" validate:"required"`
	Description         string          `json:"description" validate:"required"`
	ModificationDetails json.RawMessage `json:"modification_details"`
	Status              string          `json:"status" validate:"omitempty,oneof=Saved Pending Approved"`
	Timestamp           *time.Time      `json:"timestamp"`
}

// Create records a modification for the calling operator.  The operator id
// in the body must be the caller's own; that is checked before anything else
// so a mismatched body never reveals which fields are missing.
func (s *ModificationService) Create(ctx context.Context, p auth.Principal, in ModificationInput) (model.Modification, error) {
	if !p.IsOperator() || in.OperatorID != p.UserID {
		return model.Modification{}, apperr.Forbidden("operator_id does not match the authenticated operator")
	}
	if err := validateStruct(in); err != nil {
		return model.Modification{}, err
	}
	details := detailsText(in.ModificationDetails)
	if details == "" {
		return model.Modification{}, fieldError("modification_details", "is required")
	}

	now := s.now().UTC()
	m := model.Modification{
		OperatorID:          p.UserID,
		OriginalImageURL:    in.OriginalImageURL,
		ModifiedImageURL:    in.ModifiedImageURL,
		ModificationType:    in.ModificationType,
		VehiclePart:         in.VehiclePart,
		Description:         in.Description,
		ModificationDetails: details,
		Status:              model.ModificationSaved,
		Timestamp:           now,
		CreatedAt:           now,
	}
	if in.Status != "" {
		m.Status = model.ModificationStatus(in.Status)
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		m.Timestamp = in.Timestamp.UTC()
	}
	if err := s.store.Create(ctx, &m); err != nil {
		return model.Modification{}, storeErr(err, "modification")
	}
	return m, nil
}

// List returns an operator's modifications, newest first.  operatorID
// defaults to the caller.
func (s *ModificationService) List(ctx context.Context, p auth.Principal, operatorID *uint64) ([]model.Modification, error) {
	if !p.IsOperator() {
		return nil, apperr.Forbidden("only operators can list their modifications")
	}
	id := p.UserID
	if operatorID != nil {
		id = *operatorID
	}
	if id != p.UserID {
		return nil, apperr.Forbidden("operator_id does not match the authenticated operator")
	}
	mods, err := s.store.ListByOperator(ctx, id)
	if err != nil {
		return nil, storeErr(err, "modification")
	}
	sort.SliceStable(mods, func(i, j int) bool {
		if !mods[i].Timestamp.Equal(mods[j].Timestamp) {
			return mods[i].Timestamp.After(mods[j].Timestamp)
		}
		return mods[i].ID > mods[j].ID
	})
	return mods, nil
}

func detailsText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(raw)
}
