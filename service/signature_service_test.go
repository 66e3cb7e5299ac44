package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewdesk-backend/models"
)

func TestFieldsFromSuggestions_ClampsPage(t *testing.T) {
	suggestions := []FieldSuggestion{
		{Type: models.FieldTypeSignature, SignatoryIndex: 0, PageNumber: 9, X: 72, Y: 500, Width: 180, Height: 40, Label: "Alice"},
		{Type: models.FieldTypeDate, SignatoryIndex: 0, PageNumber: 2, X: 288, Y: 500, Width: 108, Height: 40, Label: "Date"},
		{Type: models.FieldTypeSignature, SignatoryIndex: 1, PageNumber: 0, X: 72, Y: 400, Width: 180, Height: 40, Label: "Bob"},
	}

	fields := FieldsFromSuggestions(suggestions, 3)
	require.Len(t, fields, 3)
	assert.Equal(t, 3, fields[0].PageNumber, "page beyond the true count clamps down")
	assert.Equal(t, 2, fields[1].PageNumber, "valid page preserved")
	assert.Equal(t, 1, fields[2].PageNumber, "page below one clamps up")

	// Geometry and identity pass through untouched
	assert.Equal(t, 72.0, fields[0].X)
	assert.Equal(t, "Alice", fields[0].Label)
	assert.NotEqual(t, fields[0].ID, fields[1].ID)
}

func TestSynthesizeFields_OnePairPerSignatory(t *testing.T) {
	signatories := []models.Signatory{
		{Name: "Alice Chen", ColorIndex: 0},
		{Name: "Bob Rivera", ColorIndex: 1},
	}

	fields := SynthesizeFields(signatories, 4)
	require.Len(t, fields, 4)

	assert.Equal(t, models.FieldTypeSignature, fields[0].Type)
	assert.Equal(t, models.FieldTypeDate, fields[1].Type)
	assert.Equal(t, models.FieldTypeSignature, fields[2].Type)
	assert.Equal(t, models.FieldTypeDate, fields[3].Type)

	for _, f := range fields {
		assert.Equal(t, 4, f.PageNumber, "synthesized fields live on the last page")
	}
	assert.Equal(t, 0, fields[0].SignatoryIndex)
	assert.Equal(t, 1, fields[2].SignatoryIndex)
	assert.Equal(t, "Alice Chen", fields[0].Label)
	assert.Less(t, fields[2].Y, fields[0].Y, "rows stack per signatory")
}

func TestMoveFieldsToLastPage(t *testing.T) {
	fields := models.SignatureFieldList{
		{PageNumber: 1, Type: models.FieldTypeSignature},
		{PageNumber: 3, Type: models.FieldTypeDate},
		{PageNumber: 7, Type: models.FieldTypeSignature},
	}

	testCases := []struct {
		name      string
		pageCount int
		want      int
	}{
		{"shrinks", 2, 2},
		{"grows", 10, 10},
		{"same", 3, 3},
		{"degenerate", 0, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			moved := MoveFieldsToLastPage(fields, tc.pageCount)
			require.Len(t, moved, len(fields))
			for _, f := range moved {
				assert.Equal(t, tc.want, f.PageNumber)
			}
		})
	}

	// The input list is not mutated
	assert.Equal(t, 1, fields[0].PageNumber)
}

func TestClampPage(t *testing.T) {
	assert.Equal(t, 1, clampPage(0, 5))
	assert.Equal(t, 1, clampPage(-2, 5))
	assert.Equal(t, 3, clampPage(3, 5))
	assert.Equal(t, 5, clampPage(9, 5))
	assert.Equal(t, 1, clampPage(4, 0))
}
