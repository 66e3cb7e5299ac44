package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"reviewdesk-backend/models"
)

var (
	ErrRenderFailed    = errors.New("rendering service failed")
	ErrRenderMalformed = errors.New("rendering service returned malformed output")
)

const (
	renderMaxRetries     = 3
	renderInitialBackoff = time.Second
)

// Renderer produces rendered output for a document snapshot. The rendered
// bytes and page count are authoritative; the review core never infers a
// page count on its own.
type Renderer interface {
	Render(ctx context.Context, doc models.Document, answers models.AnswerData) (*RenderResult, error)
}

// FieldSuggestion is a server-side default signature/date placement
// derived from the signatory list
type FieldSuggestion struct {
	Type           models.SignatureFieldType `json:"type"`
	SignatoryIndex int                       `json:"signatory_index"`
	PageNumber     int                       `json:"page_number"`
	X              float64                   `json:"x"`
	Y              float64                   `json:"y"`
	Width          float64                   `json:"width"`
	Height         float64                   `json:"height"`
	Label          string                    `json:"label"`
}

// RenderResult is one completed render: the PDF bytes, the true page
// count, the per-page text layer, and optional default field suggestions
type RenderResult struct {
	Bytes                   []byte            `json:"pdf"`
	PageCount               int               `json:"page_count"`
	TextLayer               models.TextLayer  `json:"text_layer"`
	DefaultFieldSuggestions []FieldSuggestion `json:"default_field_suggestions,omitempty"`
}

// RenderClient calls the external rendering service over HTTP
type RenderClient struct {
	renderURL  string
	httpClient *http.Client
}

// NewRenderClient creates a render client for the given endpoint
func NewRenderClient(renderURL string) *RenderClient {
	return &RenderClient{
		renderURL:  renderURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type renderRequest struct {
	Document   models.Document   `json:"document"`
	AnswerData models.AnswerData `json:"answer_data"`
}

// Render requests a render of the document snapshot, retrying transient
// failures with exponential backoff. Client errors (4xx) are not retried.
func (c *RenderClient) Render(ctx context.Context, doc models.Document, answers models.AnswerData) (*RenderResult, error) {
	jsonData, err := json.Marshal(renderRequest{Document: doc, AnswerData: answers})
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	backoff := renderInitialBackoff
	for attempt := 0; attempt < renderMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.renderURL, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt == renderMaxRetries-1 {
				return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
			}

			var result RenderResult
			if err := json.Unmarshal(body, &result); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRenderMalformed, err)
			}
			if len(result.Bytes) == 0 || result.PageCount < 1 {
				return nil, ErrRenderMalformed
			}
			return &result, nil
		}
		resp.Body.Close()

		// Don't retry on client errors
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: status %d", ErrRenderFailed, resp.StatusCode)
		}

		if attempt == renderMaxRetries-1 {
			return nil, fmt.Errorf("%w: status %d after %d attempts", ErrRenderFailed, resp.StatusCode, renderMaxRetries)
		}
	}

	return nil, ErrRenderFailed
}
