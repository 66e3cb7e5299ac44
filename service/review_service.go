package service

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewdesk-backend/models"
	"reviewdesk-backend/repository"
	"reviewdesk-backend/storage"
)

// SessionState is the edit-session state machine position
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateHovering SessionState = "hovering"
	StateEditing  SessionState = "editing"
	StateSaving   SessionState = "saving"
)

var (
	ErrSessionNotFound    = errors.New("review session not found")
	ErrPreviewUnavailable = errors.New("preview unavailable until a render succeeds")
	ErrNotHovering        = errors.New("no hovered block to edit")
	ErrNotEditing         = errors.New("no edit in progress")
	ErrEditInProgress     = errors.New("an edit is already in progress")
	ErrFieldNotFound      = errors.New("signature field not found")
	ErrNoRenderedOutput   = errors.New("no rendered output available")
	ErrHandleReleased     = errors.New("rendered output handle already released")
)

const defaultHoverDebounce = 120 * time.Millisecond

// renderHandle owns one render's PDF bytes. It is released exactly once,
// on replacement by a newer render or on session teardown.
type renderHandle struct {
	data     []byte
	released bool
}

func (h *renderHandle) release() error {
	if h.released {
		return ErrHandleReleased
	}
	h.released = true
	h.data = nil
	return nil
}

// reviewSession is the in-memory state of one reviewing session. The
// document, text layer, and field set are scoped to this session; nothing
// is shared across sessions.
type reviewSession struct {
	mu sync.Mutex

	id      uuid.UUID
	userID  uuid.UUID
	doc     models.Document
	answers models.AnswerData

	state SessionState
	hover *Match
	draft string
	dirty bool

	signatories []models.Signatory
	fields      models.SignatureFieldList

	layer             models.TextLayer
	pageCount         int
	handle            *renderHandle
	previewAvailable  bool
	fieldsInitialized bool

	archivePath string
	envelopeID  string

	// latest render generation issued; only a response carrying the
	// latest generation is adopted
	renderGen uint64

	closed bool
}

// ReviewService owns the reviewing sessions: hover/edit state machine,
// render lifecycle, signature fields, and export
type ReviewService struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*reviewSession

	reconciler    *Reconciler
	renderer      Renderer
	signer        SigningSubmitter
	sessionRepo   *repository.ReviewSessionRepository
	archive       storage.Storage
	hoverDebounce time.Duration
}

// ReviewServiceOption is a functional option for ReviewService
type ReviewServiceOption func(*ReviewService)

// WithRenderer sets the rendering collaborator
func WithRenderer(renderer Renderer) ReviewServiceOption {
	return func(s *ReviewService) {
		s.renderer = renderer
	}
}

// WithReconciler sets the block reconciler
func WithReconciler(reconciler *Reconciler) ReviewServiceOption {
	return func(s *ReviewService) {
		s.reconciler = reconciler
	}
}

// WithSigningSubmitter sets the signing collaborator
func WithSigningSubmitter(signer SigningSubmitter) ReviewServiceOption {
	return func(s *ReviewService) {
		s.signer = signer
	}
}

// WithSessionRepository sets the session persistence layer
func WithSessionRepository(repo *repository.ReviewSessionRepository) ReviewServiceOption {
	return func(s *ReviewService) {
		s.sessionRepo = repo
	}
}

// WithArchiveStorage sets the rendered-PDF archive
func WithArchiveStorage(archive storage.Storage) ReviewServiceOption {
	return func(s *ReviewService) {
		s.archive = archive
	}
}

// NewReviewService creates a review service
func NewReviewService(opts ...ReviewServiceOption) *ReviewService {
	s := &ReviewService{
		sessions:      make(map[uuid.UUID]*reviewSession),
		reconciler:    NewReconciler(),
		hoverDebounce: defaultHoverDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionRequest starts a reviewing session for a generated document
type CreateSessionRequest struct {
	UserID     uuid.UUID
	Document   models.Document
	AnswerData models.AnswerData
}

// SessionView is a read snapshot of a session for the UI boundary
type SessionView struct {
	ID               uuid.UUID
	State            SessionState
	PreviewAvailable bool
	PageCount        int
	Dirty            bool
	Signatories      []models.Signatory
	Fields           models.SignatureFieldList
	TextLayer        models.TextLayer
}

// CreateSession resolves signatories, performs the initial render, and
// derives the default signature fields. A failed initial render leaves the
// session in the preview-unavailable state with editing disabled; the
// session is still created so the user can retry.
func (s *ReviewService) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionView, error) {
	if s.renderer == nil {
		return nil, errors.New("renderer not set")
	}

	session := &reviewSession{
		id:          uuid.New(),
		userID:      req.UserID,
		doc:         req.Document,
		answers:     req.AnswerData,
		state:       StateIdle,
		signatories: ResolveSignatories(&req.Document, req.AnswerData),
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	if err := s.renderAndAdopt(ctx, session); err != nil {
		log.Printf("Initial render failed for session %s: %v", session.id, err)
	}

	s.persistSnapshot(ctx, session, models.SessionStatusDraft)

	session.mu.Lock()
	defer session.mu.Unlock()
	return snapshotLocked(session), nil
}

// GetSession returns a read snapshot of the session
func (s *ReviewService) GetSession(sessionID uuid.UUID) (*SessionView, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return snapshotLocked(session), nil
}

// HoverResult is the hover-highlight outcome for the UI boundary
type HoverResult struct {
	Matched        bool
	State          SessionState
	BlockID        string
	BlockKind      models.NodeKind
	IsTitle        bool
	Highlight      models.BoundingBox
	DebounceMillis int64
}

// Hover resolves a pointer position to a block and returns the highlight
// rectangle. While an edit is open the hover computation is a no-op, which
// is what enforces the single-open-edit rule. A miss clears the highlight
// after the debounce window; the caller owns the timer, the service only
// reports the window.
func (s *ReviewService) Hover(sessionID uuid.UUID, pageNumber, fragmentIndex int) (*HoverResult, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state == StateEditing || session.state == StateSaving {
		return &HoverResult{Matched: session.hover != nil, State: session.state}, nil
	}
	if !session.previewAvailable {
		return nil, ErrPreviewUnavailable
	}

	match := s.reconciler.Resolve(&session.doc, &session.layer, pageNumber, fragmentIndex)
	if match == nil {
		session.hover = nil
		session.state = StateIdle
		return &HoverResult{
			Matched:        false,
			State:          StateIdle,
			DebounceMillis: s.hoverDebounce.Milliseconds(),
		}, nil
	}

	session.hover = match
	session.state = StateHovering
	return &HoverResult{
		Matched:        true,
		State:          StateHovering,
		BlockID:        match.Target.BlockID(),
		BlockKind:      match.BlockKind,
		IsTitle:        match.Target.IsTitle,
		Highlight:      s.reconciler.HighlightBox(&session.layer, pageNumber, match.FragmentIndices),
		DebounceMillis: s.hoverDebounce.Milliseconds(),
	}, nil
}

// BeginEditResult seeds the edit dialog
type BeginEditResult struct {
	BlockID     string
	BlockKind   models.NodeKind
	IsTitle     bool
	InitialText string
}

// BeginEdit opens an edit on the currently hovered block, freezing hover
// updates until the edit is saved or cancelled
func (s *ReviewService) BeginEdit(sessionID uuid.UUID) (*BeginEditResult, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state == StateEditing || session.state == StateSaving {
		return nil, ErrEditInProgress
	}
	if session.state != StateHovering || session.hover == nil {
		return nil, ErrNotHovering
	}

	target := session.hover.Target
	var initial string
	switch {
	case target.IsEffectiveDate:
		initial = session.doc.EffectiveDateText()
	case target.IsTitle:
		node := session.doc.NodeAt(target.Path)
		if node == nil {
			return nil, ErrInvalidEditTarget
		}
		initial = node.Title
	default:
		node := session.doc.NodeAt(target.Path)
		if node == nil {
			return nil, ErrInvalidEditTarget
		}
		initial = node.Text
	}

	session.state = StateEditing
	session.draft = initial
	return &BeginEditResult{
		BlockID:     target.BlockID(),
		BlockKind:   session.hover.BlockKind,
		IsTitle:     target.IsTitle,
		InitialText: initial,
	}, nil
}

// CancelEdit discards the draft and returns the session to Idle
func (s *ReviewService) CancelEdit(sessionID uuid.UUID) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state != StateEditing {
		return ErrNotEditing
	}
	session.state = StateIdle
	session.hover = nil
	session.draft = ""
	return nil
}

// SaveEditResult reports the committed edit
type SaveEditResult struct {
	Dirty bool
}

// SaveEdit commits the draft through the reconciler, marks the session
// dirty, and kicks a background re-render. A failed commit leaves the
// session in Editing with the draft intact so no text is lost.
func (s *ReviewService) SaveEdit(ctx context.Context, sessionID uuid.UUID, text string) (*SaveEditResult, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if session.state != StateEditing || session.hover == nil {
		session.mu.Unlock()
		return nil, ErrNotEditing
	}
	session.state = StateSaving
	session.draft = text
	target := session.hover.Target
	doc := session.doc

	updated, commitErr := s.reconciler.Commit(doc, target, text)
	if commitErr != nil {
		session.state = StateEditing
		session.mu.Unlock()
		return nil, commitErr
	}

	session.doc = updated
	session.dirty = true
	session.state = StateIdle
	session.hover = nil
	session.draft = ""
	session.mu.Unlock()

	s.persistSnapshot(ctx, session, models.SessionStatusInReview)

	// The dirty flag triggers a re-render; stale responses are discarded
	// by the generation check, so the goroutine may outlive this call.
	go func() {
		if err := s.renderAndAdopt(context.Background(), session); err != nil {
			log.Printf("Re-render failed for session %s: %v", session.id, err)
		}
	}()

	return &SaveEditResult{Dirty: true}, nil
}

// Rerender forces a render of the current document snapshot
func (s *ReviewService) Rerender(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.renderAndAdopt(ctx, session); err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return snapshotLocked(session), nil
}

// renderAndAdopt issues a render for the current document snapshot and
// adopts the result only if no newer render was issued meanwhile (latest
// wins). The replaced handle is released exactly once; a stale response's
// handle is released immediately.
func (s *ReviewService) renderAndAdopt(ctx context.Context, session *reviewSession) error {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return ErrSessionNotFound
	}
	session.renderGen++
	gen := session.renderGen
	doc := session.doc
	answers := session.answers
	session.mu.Unlock()

	result, err := s.renderer.Render(ctx, doc, answers)

	session.mu.Lock()
	defer session.mu.Unlock()

	if err != nil {
		// Only the latest request may flip the preview state
		if gen == session.renderGen {
			session.previewAvailable = false
		}
		return err
	}

	if gen != session.renderGen || session.closed {
		// Superseded; drop the response without touching session state
		return nil
	}

	if session.handle != nil {
		if err := session.handle.release(); err != nil {
			log.Printf("Warning: render handle for session %s: %v", session.id, err)
		}
	}
	session.handle = &renderHandle{data: result.Bytes}
	session.layer = result.TextLayer
	session.pageCount = result.PageCount
	session.previewAvailable = true
	session.dirty = false
	session.hover = nil
	if session.state == StateHovering {
		session.state = StateIdle
	}

	if !session.fieldsInitialized {
		if len(result.DefaultFieldSuggestions) > 0 {
			session.fields = FieldsFromSuggestions(result.DefaultFieldSuggestions, result.PageCount)
		} else if len(session.signatories) > 0 {
			session.fields = SynthesizeFields(session.signatories, result.PageCount)
		}
		session.fieldsInitialized = true
	}

	// Fields always live on the final page; re-pin on every count update
	session.fields = MoveFieldsToLastPage(session.fields, result.PageCount)

	return nil
}

// ListFields returns the session's placed fields
func (s *ReviewService) ListFields(sessionID uuid.UUID) (models.SignatureFieldList, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	out := make(models.SignatureFieldList, len(session.fields))
	copy(out, session.fields)
	return out, nil
}

// AddFieldRequest places a new field
type AddFieldRequest struct {
	Type           models.SignatureFieldType
	SignatoryIndex int
	PageNumber     int
	X, Y           float64
	Width, Height  float64
	Label          string
}

// AddField places a manually positioned field, clamped to the known page
// range
func (s *ReviewService) AddField(sessionID uuid.UUID, req AddFieldRequest) (*models.SignatureField, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if req.SignatoryIndex < 0 || req.SignatoryIndex >= len(session.signatories) {
		return nil, ErrUnknownSignatory
	}

	field := models.SignatureField{
		ID:             uuid.New(),
		Type:           req.Type,
		SignatoryIndex: req.SignatoryIndex,
		PageNumber:     clampPage(req.PageNumber, session.pageCount),
		X:              req.X,
		Y:              req.Y,
		Width:          req.Width,
		Height:         req.Height,
		Label:          req.Label,
	}
	session.fields = append(session.fields, field)
	return &field, nil
}

// MoveFieldRequest repositions an existing field
type MoveFieldRequest struct {
	PageNumber    int
	X, Y          float64
	Width, Height float64
}

// MoveField repositions a field, clamping the page number
func (s *ReviewService) MoveField(sessionID, fieldID uuid.UUID, req MoveFieldRequest) (*models.SignatureField, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	for i := range session.fields {
		if session.fields[i].ID == fieldID {
			session.fields[i].PageNumber = clampPage(req.PageNumber, session.pageCount)
			session.fields[i].X = req.X
			session.fields[i].Y = req.Y
			if req.Width > 0 {
				session.fields[i].Width = req.Width
			}
			if req.Height > 0 {
				session.fields[i].Height = req.Height
			}
			field := session.fields[i]
			return &field, nil
		}
	}
	return nil, ErrFieldNotFound
}

// RemoveField deletes a placed field
func (s *ReviewService) RemoveField(sessionID, fieldID uuid.UUID) error {
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	for i := range session.fields {
		if session.fields[i].ID == fieldID {
			session.fields = append(session.fields[:i], session.fields[i+1:]...)
			return nil
		}
	}
	return ErrFieldNotFound
}

// Download returns a copy of the latest rendered PDF bytes
func (s *ReviewService) Download(sessionID uuid.UUID) ([]byte, error) {
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.handle == nil || session.handle.released {
		return nil, ErrNoRenderedOutput
	}
	out := make([]byte, len(session.handle.data))
	copy(out, session.handle.data)
	return out, nil
}

// SendResult reports an accepted signing submission
type SendResult struct {
	EnvelopeID string
}

// Send converts the field geometry to the signing service's unit space,
// submits, and archives the sent PDF. On rejection the local document and
// fields are left unchanged so the user may retry; nothing is retried
// automatically.
func (s *ReviewService) Send(ctx context.Context, sessionID uuid.UUID) (*SendResult, error) {
	if s.signer == nil {
		return nil, errors.New("signing submitter not set")
	}

	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if session.handle == nil || session.handle.released {
		session.mu.Unlock()
		return nil, ErrNoRenderedOutput
	}
	documentBytes := make([]byte, len(session.handle.data))
	copy(documentBytes, session.handle.data)
	doc := session.doc
	answers := session.answers
	signatories := session.signatories
	fields := make(models.SignatureFieldList, len(session.fields))
	copy(fields, session.fields)
	pageCount := session.pageCount
	session.mu.Unlock()

	req, err := BuildSigningRequest(doc, answers, signatories, fields, documentBytes, pageCount)
	if err != nil {
		return nil, err
	}

	result, err := s.signer.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		path, archiveErr := s.archive.Upload(ctx, session.id, "sent.pdf", bytes.NewReader(documentBytes))
		if archiveErr != nil {
			log.Printf("Warning: failed to archive sent PDF for session %s: %v", session.id, archiveErr)
		} else {
			session.mu.Lock()
			session.archivePath = path
			session.mu.Unlock()
		}
	}

	session.mu.Lock()
	session.envelopeID = result.EnvelopeID
	session.mu.Unlock()

	s.persistSnapshot(ctx, session, models.SessionStatusSent)

	return &SendResult{EnvelopeID: result.EnvelopeID}, nil
}

// Close tears the session down, releasing the rendered-output handle
// exactly once
func (s *ReviewService) Close(sessionID uuid.UUID) error {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	session.closed = true
	if session.handle != nil {
		if err := session.handle.release(); err != nil {
			return err
		}
		session.handle = nil
	}
	return nil
}

func (s *ReviewService) lookup(sessionID uuid.UUID) (*reviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// persistSnapshot writes the session's durable state if a repository is
// configured. Persistence failures are logged, never surfaced: the
// in-memory session is the working copy.
func (s *ReviewService) persistSnapshot(ctx context.Context, session *reviewSession, status models.SessionStatus) {
	if s.sessionRepo == nil {
		return
	}

	session.mu.Lock()
	record := &models.ReviewSession{
		ID:              session.id,
		UserID:          session.userID,
		Status:          status,
		Document:        session.doc,
		AnswerData:      session.answers,
		SignatureFields: session.fields,
		PageCount:       session.pageCount,
	}
	if session.archivePath != "" {
		path := session.archivePath
		record.RenderedPDFPath = &path
	}
	if session.envelopeID != "" {
		envelope := session.envelopeID
		record.EnvelopeID = &envelope
	}
	session.mu.Unlock()

	if err := s.sessionRepo.Upsert(ctx, record); err != nil {
		log.Printf("Warning: failed to persist session %s: %v", session.id, err)
	}
}

func snapshotLocked(session *reviewSession) *SessionView {
	fields := make(models.SignatureFieldList, len(session.fields))
	copy(fields, session.fields)
	signatories := make([]models.Signatory, len(session.signatories))
	copy(signatories, session.signatories)
	return &SessionView{
		ID:               session.id,
		State:            session.state,
		PreviewAvailable: session.previewAvailable,
		PageCount:        session.pageCount,
		Dirty:            session.dirty,
		Signatories:      signatories,
		Fields:           fields,
		TextLayer:        session.layer,
	}
}
