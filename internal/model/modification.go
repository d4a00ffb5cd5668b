package model

import "time"

// ModificationStatus tracks the review state of a saved modification.
type ModificationStatus string

const (
    ModificationSaved    ModificationStatus = "Saved"
    ModificationPending  ModificationStatus = "Pending"
    ModificationApproved ModificationStatus = "Approved"
)

// Modification records one compositing session of an operator: the
// original photo, the modified render and what was changed.
//
// Fields:
//  ID                  – primary key identifier.
//  OperatorID          – operator who produced the modification.
//  OriginalImageURL    – public URL of the uploaded photo.
//  ModifiedImageURL    – public URL of the composited render.
//  ModificationType    – kind of change (e.g. spoiler, rims).
//  VehiclePart         – detected part the change applies to.
//  Description         – free text entered by the operator.
//  ModificationDetails – opaque key/value payload stored as text.
//  Status              – Saved, Pending or Approved.
//  Timestamp           – when the session happened (client clock).
//  CreatedAt           – when the row was written.
type Modification struct {
    ID                  uint64             `json:"id"`                   // modifications.id
    OperatorID          uint64             `json:"operator_id"`          // modifications.operator_id
    OriginalImageURL    string             `json:"original_image_url"`   // modifications.original_image_url
    ModifiedImageURL    string             `json:"modified_image_url"`   // modifications.modified_image_url
    ModificationType    string             `json:"modification_type"`    // modifications.modification_type
    VehiclePart         string             `json:"vehicle_part"`         // modifications.vehicle_part
    Description         string             `json:"description"`          // modifications.description
    ModificationDetails string             `json:"modification_details"` // modifications.modification_details
    Status              ModificationStatus `json:"status"`               // modifications.status
    Timestamp           time.Time          `json:"timestamp"`            // modifications.timestamp
    CreatedAt           time.Time          `json:"created_at"`           // modifications.created_at
}
