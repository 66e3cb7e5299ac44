package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reviewdesk-backend/models"
	"reviewdesk-backend/service"
)

// ReviewHandler handles HTTP requests for review sessions
type ReviewHandler struct {
	reviewService *service.ReviewService
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(reviewService *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService}
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	UserID     string            `json:"user_id" binding:"required"`
	Document   models.Document   `json:"document" binding:"required"`
	AnswerData models.AnswerData `json:"answer_data"`
}

// CreateSession handles POST /api/sessions
func (h *ReviewHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "Invalid user_id format",
			},
		})
		return
	}

	view, err := h.reviewService.CreateSession(c.Request.Context(), service.CreateSessionRequest{
		UserID:     userID,
		Document:   req.Document,
		AnswerData: req.AnswerData,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CREATE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"session": view,
	})
}

// GetSession handles GET /api/sessions/:id
func (h *ReviewHandler) GetSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	view, err := h.reviewService.GetSession(sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

// HoverRequest represents a pointer position over rendered text
type HoverRequest struct {
	PageNumber    int `json:"page_number" binding:"required"`
	FragmentIndex int `json:"fragment_index"`
}

// Hover handles POST /api/sessions/:id/hover
func (h *ReviewHandler) Hover(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req HoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.reviewService.Hover(sessionID, req.PageNumber, req.FragmentIndex)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"hover":   result,
	})
}

// BeginEdit handles POST /api/sessions/:id/edit
func (h *ReviewHandler) BeginEdit(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	result, err := h.reviewService.BeginEdit(sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"edit":    result,
	})
}

// SaveEditRequest carries the committed draft text
type SaveEditRequest struct {
	Text string `json:"text"`
}

// SaveEdit handles POST /api/sessions/:id/edit/save
func (h *ReviewHandler) SaveEdit(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req SaveEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.reviewService.SaveEdit(c.Request.Context(), sessionID, req.Text)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"dirty":   result.Dirty,
	})
}

// CancelEdit handles POST /api/sessions/:id/edit/cancel
func (h *ReviewHandler) CancelEdit(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.reviewService.CancelEdit(sessionID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Rerender handles POST /api/sessions/:id/rerender
func (h *ReviewHandler) Rerender(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	view, err := h.reviewService.Rerender(c.Request.Context(), sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": view,
	})
}

// ListFields handles GET /api/sessions/:id/fields
func (h *ReviewHandler) ListFields(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	fields, err := h.reviewService.ListFields(sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"fields":  fields,
	})
}

// AddFieldRequest represents the request body for placing a field
type AddFieldRequest struct {
	Type           string  `json:"type" binding:"required"`
	SignatoryIndex int     `json:"signatory_index"`
	PageNumber     int     `json:"page_number"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
	Label          string  `json:"label"`
}

// AddField handles POST /api/sessions/:id/fields
func (h *ReviewHandler) AddField(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req AddFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	fieldType := models.SignatureFieldType(req.Type)
	if fieldType != models.FieldTypeSignature && fieldType != models.FieldTypeDate {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FIELD_TYPE",
				"message": "type must be signature or date",
			},
		})
		return
	}

	field, err := h.reviewService.AddField(sessionID, service.AddFieldRequest{
		Type:           fieldType,
		SignatoryIndex: req.SignatoryIndex,
		PageNumber:     req.PageNumber,
		X:              req.X,
		Y:              req.Y,
		Width:          req.Width,
		Height:         req.Height,
		Label:          req.Label,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"field":   field,
	})
}

// MoveFieldRequest represents the request body for repositioning a field
type MoveFieldRequest struct {
	PageNumber int     `json:"page_number"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// MoveField handles PUT /api/sessions/:id/fields/:fieldId
func (h *ReviewHandler) MoveField(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	fieldID, err := uuid.Parse(c.Param("fieldId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FIELD_ID",
				"message": "Invalid field id format",
			},
		})
		return
	}

	var req MoveFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	field, err := h.reviewService.MoveField(sessionID, fieldID, service.MoveFieldRequest{
		PageNumber: req.PageNumber,
		X:          req.X,
		Y:          req.Y,
		Width:      req.Width,
		Height:     req.Height,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"field":   field,
	})
}

// RemoveField handles DELETE /api/sessions/:id/fields/:fieldId
func (h *ReviewHandler) RemoveField(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	fieldID, err := uuid.Parse(c.Param("fieldId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FIELD_ID",
				"message": "Invalid field id format",
			},
		})
		return
	}

	if err := h.reviewService.RemoveField(sessionID, fieldID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Send handles POST /api/sessions/:id/send
func (h *ReviewHandler) Send(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	result, err := h.reviewService.Send(c.Request.Context(), sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"envelope_id": result.EnvelopeID,
	})
}

// Download handles GET /api/sessions/:id/download
func (h *ReviewHandler) Download(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	data, err := h.reviewService.Download(sessionID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=document.pdf")
	c.Data(http.StatusOK, "application/pdf", data)
}

// CloseSession handles DELETE /api/sessions/:id
func (h *ReviewHandler) CloseSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.reviewService.Close(sessionID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ReviewHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_SESSION_ID",
				"message": "Invalid session id format",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service errors to HTTP status codes with the
// standard error envelope
func (h *ReviewHandler) respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrFieldNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, service.ErrPreviewUnavailable), errors.Is(err, service.ErrNoRenderedOutput):
		status = http.StatusConflict
		code = "PREVIEW_UNAVAILABLE"
	case errors.Is(err, service.ErrNotHovering), errors.Is(err, service.ErrNotEditing), errors.Is(err, service.ErrEditInProgress):
		status = http.StatusConflict
		code = "INVALID_STATE"
	case errors.Is(err, service.ErrUnknownSignatory), errors.Is(err, service.ErrNothingToExport):
		status = http.StatusUnprocessableEntity
		code = "INVALID_EXPORT"
	case errors.Is(err, service.ErrExportRejected):
		status = http.StatusBadGateway
		code = "EXPORT_REJECTED"
	case errors.Is(err, service.ErrRenderFailed), errors.Is(err, service.ErrRenderMalformed):
		status = http.StatusBadGateway
		code = "RENDER_FAILED"
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}
