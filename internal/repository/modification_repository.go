package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/carmod-studio/internal/model"
)

type ModificationRepo struct{ DB *sql.DB }

func NewModificationRepo(db *sql.DB) *ModificationRepo { return &ModificationRepo{DB: db} }

// Create inserts m and sets its ID.
func (r *ModificationRepo) Create(ctx context.Context, m *model.Modification) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO modifications
		   (operator_id, original_image_url, modified_image_url, modification_type, vehicle_part,
		    description, modification_details, status, timestamp)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		m.OperatorID, m.OriginalImageURL, m.ModifiedImageURL, m.ModificationType, m.VehiclePart,
		m.Description, m.ModificationDetails, string(m.Status), m.Timestamp.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// ListByOperator returns the operator's modifications, most recent first.
func (r *ModificationRepo) ListByOperator(ctx context.Context, operatorID uint64) ([]model.Modification, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, operator_id, original_image_url, modified_image_url, modification_type, vehicle_part,
		        description, modification_details, status, timestamp, created_at
		   FROM modifications
		  WHERE operator_id = ?
		  ORDER BY timestamp DESC, id DESC`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Modification{}
	for rows.Next() {
		var (
			m      model.Modification
			status string
		)
		if err := rows.Scan(&m.ID, &m.OperatorID, &m.OriginalImageURL, &m.ModifiedImageURL,
			&m.ModificationType, &m.VehiclePart, &m.Description, &m.ModificationDetails,
			&status, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = model.ModificationStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}
