package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// SignatureFieldType distinguishes signature capture from date capture
type SignatureFieldType string

const (
	FieldTypeSignature SignatureFieldType = "signature"
	FieldTypeDate      SignatureFieldType = "date"
)

// SignatureField is a placed annotation over the rendered pages marking
// where a signature or date must be captured. Geometry is in the rendering
// engine's unit space (points); conversion to the signing service's unit
// space happens only at export. The page number is re-clamped whenever the
// true rendered page count becomes known.
type SignatureField struct {
	ID             uuid.UUID          `json:"id"`
	Type           SignatureFieldType `json:"type"`
	SignatoryIndex int                `json:"signatory_index"`
	PageNumber     int                `json:"page_number"`
	X              float64            `json:"x"`
	Y              float64            `json:"y"`
	Width          float64            `json:"width"`
	Height         float64            `json:"height"`
	Label          string             `json:"label"`
}

// SignatureFieldList is the session's placed field set
type SignatureFieldList []SignatureField

// Value implements driver.Valuer for JSONB
func (l SignatureFieldList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB
func (l *SignatureFieldList) Scan(value interface{}) error {
	if value == nil {
		*l = make(SignatureFieldList, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = make(SignatureFieldList, 0)
		return nil
	}

	if len(bytes) == 0 {
		*l = make(SignatureFieldList, 0)
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Signatory is a resolved signing party. Signatories are derived from the
// document and answer data, never edited directly in the review session.
// ColorIndex is assigned in first-seen order and stays stable across
// re-renders as long as the underlying list does not change order.
type Signatory struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	ColorIndex int    `json:"color_index"`
}
