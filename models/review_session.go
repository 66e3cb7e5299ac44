package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle status of a review session
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "draft"
	SessionStatusInReview  SessionStatus = "in_review"
	SessionStatusSent      SessionStatus = "sent"
	SessionStatusCompleted SessionStatus = "completed"
)

// AnswerData is the intake/questionnaire data the document was generated
// from. It is opaque to the review core except for signatory resolution.
type AnswerData map[string]interface{}

// Value implements driver.Valuer for JSONB
func (a AnswerData) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner for JSONB
func (a *AnswerData) Scan(value interface{}) error {
	if value == nil {
		*a = make(AnswerData)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*a = make(AnswerData)
		return nil
	}

	if len(bytes) == 0 {
		*a = make(AnswerData)
		return nil
	}

	return json.Unmarshal(bytes, a)
}

// ReviewSession is the persisted snapshot of one reviewing session: the
// current document value, the placed signature fields, and the archive
// path of the last exported PDF. Transient state (text layer, hover,
// in-flight renders) lives only in memory and is never stored.
type ReviewSession struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	Status          SessionStatus      `json:"status"`
	Document        Document           `json:"document"`
	AnswerData      AnswerData         `json:"answer_data"`
	SignatureFields SignatureFieldList `json:"signature_fields"`
	PageCount       int                `json:"page_count"`
	RenderedPDFPath *string            `json:"rendered_pdf_path,omitempty"`
	EnvelopeID      *string            `json:"envelope_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	SentAt          *time.Time         `json:"sent_at,omitempty"`
}
