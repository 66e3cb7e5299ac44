package service

import (
	"github.com/google/uuid"

	"reviewdesk-backend/models"
)

// Default geometry, in points, for synthesized fields on the last page
const (
	defaultSignatureWidth  = 180.0
	defaultSignatureHeight = 40.0
	defaultDateWidth       = 108.0
	defaultDateHeight      = 40.0
	defaultFieldMarginX    = 72.0
	defaultFieldBaseY      = 560.0
	defaultFieldRowSpacing = 96.0
	defaultDateOffsetX     = 216.0
)

// FieldsFromSuggestions converts renderer default placements into session
// signature fields, clamping each page number to the true page count. The
// suggestion's page may have been computed against an estimated count.
func FieldsFromSuggestions(suggestions []FieldSuggestion, pageCount int) models.SignatureFieldList {
	fields := make(models.SignatureFieldList, 0, len(suggestions))
	for _, s := range suggestions {
		fields = append(fields, models.SignatureField{
			ID:             uuid.New(),
			Type:           s.Type,
			SignatoryIndex: s.SignatoryIndex,
			PageNumber:     clampPage(s.PageNumber, pageCount),
			X:              s.X,
			Y:              s.Y,
			Width:          s.Width,
			Height:         s.Height,
			Label:          s.Label,
		})
	}
	return fields
}

// SynthesizeFields builds one signature field and one date field per
// signatory on the last page, used when the renderer supplies no defaults
func SynthesizeFields(signatories []models.Signatory, pageCount int) models.SignatureFieldList {
	fields := make(models.SignatureFieldList, 0, 2*len(signatories))
	for i, signatory := range signatories {
		y := defaultFieldBaseY - float64(i)*defaultFieldRowSpacing
		fields = append(fields, models.SignatureField{
			ID:             uuid.New(),
			Type:           models.FieldTypeSignature,
			SignatoryIndex: i,
			PageNumber:     pageCount,
			X:              defaultFieldMarginX,
			Y:              y,
			Width:          defaultSignatureWidth,
			Height:         defaultSignatureHeight,
			Label:          signatory.Name,
		})
		fields = append(fields, models.SignatureField{
			ID:             uuid.New(),
			Type:           models.FieldTypeDate,
			SignatoryIndex: i,
			PageNumber:     pageCount,
			X:              defaultFieldMarginX + defaultDateOffsetX,
			Y:              y,
			Width:          defaultDateWidth,
			Height:         defaultDateHeight,
			Label:          "Date",
		})
	}
	return fields
}

// MoveFieldsToLastPage pins every field to the final page. Signature and
// date fields always live on the last page, so this runs unconditionally
// on every page-count update, not just at field creation.
func MoveFieldsToLastPage(fields models.SignatureFieldList, pageCount int) models.SignatureFieldList {
	if pageCount < 1 {
		pageCount = 1
	}
	out := make(models.SignatureFieldList, len(fields))
	copy(out, fields)
	for i := range out {
		out[i].PageNumber = pageCount
	}
	return out
}

func clampPage(pageNumber, pageCount int) int {
	if pageCount < 1 {
		pageCount = 1
	}
	if pageNumber < 1 {
		return 1
	}
	if pageNumber > pageCount {
		return pageCount
	}
	return pageNumber
}
