package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"reviewdesk-backend/models"
)

var (
	ErrUnknownSignatory = errors.New("field references a signatory index outside the resolved list")
	ErrExportRejected   = errors.New("signing service rejected the submission")
	ErrNothingToExport  = errors.New("session has no signature fields to export")
)

// The rendering engine positions fields in points (72 per inch); the
// signing service expects pixels (96 per inch). Both field types go
// through the same conversion.
const signingUnitScale = 96.0 / 72.0

// ExportedField is field geometry converted to the signing service's unit
// space, rounded to integers
type ExportedField struct {
	ID             string                    `json:"id"`
	Type           models.SignatureFieldType `json:"type"`
	SignatoryIndex int                       `json:"signatory_index"`
	PageNumber     int                       `json:"page_number"`
	X              int                       `json:"x"`
	Y              int                       `json:"y"`
	Width          int                       `json:"width"`
	Height         int                       `json:"height"`
	Label          string                    `json:"label"`
}

// ConvertFieldGeometry rescales one field from renderer points to signing
// pixels
func ConvertFieldGeometry(field models.SignatureField) ExportedField {
	return ExportedField{
		ID:             field.ID.String(),
		Type:           field.Type,
		SignatoryIndex: field.SignatoryIndex,
		PageNumber:     field.PageNumber,
		X:              int(math.Round(field.X * signingUnitScale)),
		Y:              int(math.Round(field.Y * signingUnitScale)),
		Width:          int(math.Round(field.Width * signingUnitScale)),
		Height:         int(math.Round(field.Height * signingUnitScale)),
		Label:          field.Label,
	}
}

// SigningParty is one signer in the submission payload
type SigningParty struct {
	Party string `json:"party"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SigningRequest is the full submission to the signing service. All
// geometry is in the signing service's unit space and all identifiers are
// stable across retries of the same submission.
type SigningRequest struct {
	DocumentBytes []byte            `json:"document_bytes"`
	Document      models.Document   `json:"document"`
	AnswerData    models.AnswerData `json:"answer_data"`
	Signatories   []SigningParty    `json:"signatories"`
	Fields        []ExportedField   `json:"fields"`
	PageCount     int               `json:"page_count"`
}

// SigningResult reports the accepted submission
type SigningResult struct {
	EnvelopeID string `json:"envelope_id"`
}

// BuildSigningRequest assembles the submission payload: converted field
// geometry plus each field's resolved signatory. A document-level
// signatory's own identifier is used as its party key when available
// rather than recomputing one.
func BuildSigningRequest(
	doc models.Document,
	answers models.AnswerData,
	signatories []models.Signatory,
	fields models.SignatureFieldList,
	documentBytes []byte,
	pageCount int,
) (*SigningRequest, error) {
	if len(fields) == 0 {
		return nil, ErrNothingToExport
	}

	parties := make([]SigningParty, len(signatories))
	for i, signatory := range signatories {
		party := signatory.ID
		if party == "" {
			party = fmt.Sprintf("party-%d", i+1)
		}
		parties[i] = SigningParty{
			Party: party,
			Name:  signatory.Name,
			Email: signatory.Email,
			Role:  signatory.Role,
		}
	}

	exported := make([]ExportedField, len(fields))
	for i, field := range fields {
		if field.SignatoryIndex < 0 || field.SignatoryIndex >= len(signatories) {
			return nil, fmt.Errorf("%w: field %s index %d", ErrUnknownSignatory, field.ID, field.SignatoryIndex)
		}
		exported[i] = ConvertFieldGeometry(field)
	}

	return &SigningRequest{
		DocumentBytes: documentBytes,
		Document:      doc,
		AnswerData:    answers,
		Signatories:   parties,
		Fields:        exported,
		PageCount:     pageCount,
	}, nil
}

// SigningSubmitter sends an assembled request to the signing service
type SigningSubmitter interface {
	Submit(ctx context.Context, req *SigningRequest) (*SigningResult, error)
}

// SigningClient calls the external signing service over HTTP
type SigningClient struct {
	submitURL  string
	apiKey     string
	httpClient *http.Client
}

// NewSigningClient creates a signing client for the given endpoint
func NewSigningClient(submitURL, apiKey string) *SigningClient {
	return &SigningClient{
		submitURL:  submitURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type signingErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit sends the submission once. The signing service is stateful, so a
// rejected or failed submission is never retried automatically; retries
// are user-initiated re-submissions.
func (c *SigningClient) Submit(ctx context.Context, req *SigningRequest) (*SigningResult, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signing request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.submitURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportRejected, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportRejected, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var detail signingErrorResponse
		if json.Unmarshal(body, &detail) == nil && detail.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrExportRejected, detail.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrExportRejected, resp.StatusCode)
	}

	var result SigningResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportRejected, err)
	}
	return &result, nil
}
