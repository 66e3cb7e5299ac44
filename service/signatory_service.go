package service

import (
	"fmt"
	"strings"

	"reviewdesk-backend/models"
)

// ResolveSignatories derives the signing parties for a session from, in
// priority order: the document-level signatory list, a structured list of
// signatory entries in the answer data, legacy flat name/email/title
// fields plus an additional-signatories list, a numbered-key pattern, and
// finally the oldest hardcoded field names. Only the first source that
// yields at least one entry is used; sources are never merged.
//
// Color indices are assigned in first-seen order so party colors stay
// stable across re-renders as long as the list itself does not change.
func ResolveSignatories(doc *models.Document, answers models.AnswerData) []models.Signatory {
	sources := []func() []models.Signatory{
		func() []models.Signatory { return fromDocumentList(doc) },
		func() []models.Signatory { return fromStructuredEntries(answers) },
		func() []models.Signatory { return fromLegacyFlatFields(answers) },
		func() []models.Signatory { return fromNumberedKeys(answers) },
		func() []models.Signatory { return fromHardcodedFields(answers) },
	}

	for _, source := range sources {
		if signatories := source(); len(signatories) > 0 {
			for i := range signatories {
				signatories[i].ColorIndex = i
			}
			return signatories
		}
	}
	return nil
}

func fromDocumentList(doc *models.Document) []models.Signatory {
	if doc == nil || len(doc.Signatories) == 0 {
		return nil
	}
	out := make([]models.Signatory, 0, len(doc.Signatories))
	for _, ref := range doc.Signatories {
		if strings.TrimSpace(ref.Name) == "" {
			continue
		}
		out = append(out, models.Signatory{
			ID:    ref.ID,
			Name:  strings.TrimSpace(ref.Name),
			Email: strings.TrimSpace(ref.Email),
			Role:  strings.TrimSpace(ref.Role),
		})
	}
	return out
}

func fromStructuredEntries(answers models.AnswerData) []models.Signatory {
	entries, ok := answers["signatories"].([]interface{})
	if !ok {
		return nil
	}
	var out []models.Signatory
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(m, "name")
		if name == "" {
			continue
		}
		out = append(out, models.Signatory{
			Name:  name,
			Email: stringField(m, "email"),
			Role:  stringField(m, "role", "title"),
		})
	}
	return out
}

func fromLegacyFlatFields(answers models.AnswerData) []models.Signatory {
	var out []models.Signatory

	name := stringAnswer(answers, "name", "signerName")
	if name != "" {
		out = append(out, models.Signatory{
			Name:  name,
			Email: stringAnswer(answers, "email", "signerEmail"),
			Role:  stringAnswer(answers, "title", "signerTitle"),
		})
	}

	additional, ok := answers["additionalSignatories"].([]interface{})
	if !ok {
		additional, _ = answers["additional_signatories"].([]interface{})
	}
	for _, entry := range additional {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		entryName := stringField(m, "name")
		if entryName == "" {
			continue
		}
		out = append(out, models.Signatory{
			Name:  entryName,
			Email: stringField(m, "email"),
			Role:  stringField(m, "role", "title"),
		})
	}
	return out
}

func fromNumberedKeys(answers models.AnswerData) []models.Signatory {
	var out []models.Signatory
	for n := 1; ; n++ {
		name := stringAnswer(answers, fmt.Sprintf("signatory_%d_name", n))
		if name == "" {
			break
		}
		out = append(out, models.Signatory{
			Name:  name,
			Email: stringAnswer(answers, fmt.Sprintf("signatory_%d_email", n)),
			Role:  stringAnswer(answers, fmt.Sprintf("signatory_%d_role", n)),
		})
	}
	return out
}

// fromHardcodedFields covers the oldest generated templates, which baked
// party names into fixed answer keys
func fromHardcodedFields(answers models.AnswerData) []models.Signatory {
	var out []models.Signatory
	if name := stringAnswer(answers, "employeeName"); name != "" {
		out = append(out, models.Signatory{
			Name:  name,
			Email: stringAnswer(answers, "employeeEmail"),
			Role:  "Employee",
		})
	}
	if name := stringAnswer(answers, "employerName"); name != "" {
		out = append(out, models.Signatory{
			Name:  name,
			Email: stringAnswer(answers, "employerEmail"),
			Role:  "Employer",
		})
	}
	if len(out) == 0 {
		if name := stringAnswer(answers, "partyName"); name != "" {
			out = append(out, models.Signatory{
				Name:  name,
				Email: stringAnswer(answers, "partyEmail"),
			})
		}
	}
	return out
}

// stringAnswer probes the answer map for the first key holding a non-empty
// string
func stringAnswer(answers models.AnswerData, keys ...string) string {
	for _, key := range keys {
		if value, ok := answers[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
