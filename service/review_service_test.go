package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewdesk-backend/models"
)

// fakeRenderer scripts render responses; safe for the background
// re-render goroutine
type fakeRenderer struct {
	mu       sync.Mutex
	renderFn func(call int, doc models.Document) (*RenderResult, error)
	calls    int
	rendered chan struct{}
}

func newFakeRenderer(renderFn func(call int, doc models.Document) (*RenderResult, error)) *fakeRenderer {
	return &fakeRenderer{renderFn: renderFn, rendered: make(chan struct{}, 16)}
}

func (f *fakeRenderer) Render(ctx context.Context, doc models.Document, answers models.AnswerData) (*RenderResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.renderFn
	f.mu.Unlock()

	result, err := fn(call, doc)

	select {
	case f.rendered <- struct{}{}:
	default:
	}
	return result, err
}

func (f *fakeRenderer) waitForRender(t *testing.T) {
	t.Helper()
	select {
	case <-f.rendered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a render")
	}
}

type fakeSigner struct {
	mu       sync.Mutex
	lastReq  *SigningRequest
	submitFn func(*SigningRequest) (*SigningResult, error)
}

func (f *fakeSigner) Submit(ctx context.Context, req *SigningRequest) (*SigningResult, error) {
	f.mu.Lock()
	f.lastReq = req
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &SigningResult{EnvelopeID: "env-123"}, nil
}

// makeTestRenderResult renders the fixture document the way the tests
// expect: one fragment per leaf text, all on page one
func makeTestRenderResult(doc models.Document, pageCount int) *RenderResult {
	var fragments []models.TextFragment
	for i, leaf := range doc.LeafBlocks() {
		fragments = append(fragments, models.TextFragment{
			Text:        leaf.Text,
			PageNumber:  1,
			OrderIndex:  i,
			BoundingBox: models.BoundingBox{X: 72, Y: 100 + float64(40*i), Width: 300, Height: 12},
		})
	}
	pages := make([][]models.TextFragment, pageCount)
	pages[0] = fragments
	return &RenderResult{
		Bytes:     []byte("%PDF-test"),
		PageCount: pageCount,
		TextLayer: models.TextLayer{Pages: pages},
	}
}

func newTestService(renderer Renderer, signer SigningSubmitter) *ReviewService {
	opts := []ReviewServiceOption{WithRenderer(renderer)}
	if signer != nil {
		opts = append(opts, WithSigningSubmitter(signer))
	}
	return NewReviewService(opts...)
}

func signedTestDocument() models.Document {
	doc := makeTestDocument()
	doc.Signatories = []models.SignatoryRef{
		{ID: "sig-1", Name: "Alice Chen", Email: "alice@example.com", Role: "Consultant"},
		{Name: "Bob Rivera", Role: "Client"},
	}
	return doc
}

func TestCreateSession_SynthesizesFields(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 3), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	assert.True(t, view.PreviewAvailable)
	assert.Equal(t, 3, view.PageCount)
	require.Len(t, view.Signatories, 2)
	require.Len(t, view.Fields, 4, "one signature and one date field per signatory")
	for _, f := range view.Fields {
		assert.Equal(t, 3, f.PageNumber)
	}
}

func TestCreateSession_AdoptsSuggestions(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		result := makeTestRenderResult(doc, 2)
		result.DefaultFieldSuggestions = []FieldSuggestion{
			{Type: models.FieldTypeSignature, SignatoryIndex: 0, PageNumber: 8, X: 72, Y: 500, Width: 180, Height: 40, Label: "Alice Chen"},
		}
		return result, nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	require.Len(t, view.Fields, 1, "suggestions win over synthesis")
	assert.Equal(t, 2, view.Fields[0].PageNumber, "suggested page clamped to the true count")
}

func TestCreateSession_RenderFailureDisablesEditing(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return nil, ErrRenderFailed
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err, "session is still created so the user can retry")
	assert.False(t, view.PreviewAvailable)

	_, err = svc.Hover(view.ID, 1, 0)
	assert.ErrorIs(t, err, ErrPreviewUnavailable)

	_, err = svc.Download(view.ID)
	assert.ErrorIs(t, err, ErrNoRenderedOutput)
}

func TestHoverEditSaveCycle(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)
	renderer.waitForRender(t)

	// Hover over the first paragraph fragment
	hover, err := svc.Hover(view.ID, 1, 0)
	require.NoError(t, err)
	require.True(t, hover.Matched)
	assert.Equal(t, StateHovering, hover.State)
	assert.Equal(t, "0.0.0", hover.BlockID)
	assert.Greater(t, hover.Highlight.Width, 0.0)

	// Open the edit; hover becomes a no-op
	edit, err := svc.BeginEdit(view.ID)
	require.NoError(t, err)
	assert.Contains(t, edit.InitialText, "The consultant shall provide")

	frozen, err := svc.Hover(view.ID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, StateEditing, frozen.State, "hover is frozen while editing")

	// Only one edit may be open at a time
	_, err = svc.BeginEdit(view.ID)
	assert.ErrorIs(t, err, ErrEditInProgress)

	// Save commits and marks the session dirty
	saved, err := svc.SaveEdit(context.Background(), view.ID, "The consultant shall provide embedded systems consulting.")
	require.NoError(t, err)
	assert.True(t, saved.Dirty)

	// The dirty flag kicked a background re-render
	renderer.waitForRender(t)

	// After the re-render the new text is matchable
	require.Eventually(t, func() bool {
		h, err := svc.Hover(view.ID, 1, 0)
		return err == nil && h.Matched && h.BlockID == "0.0.0"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelEdit_DiscardsDraft(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	_, err = svc.Hover(view.ID, 1, 0)
	require.NoError(t, err)
	_, err = svc.BeginEdit(view.ID)
	require.NoError(t, err)

	require.NoError(t, svc.CancelEdit(view.ID))

	current, err := svc.GetSession(view.ID)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, current.State)
	assert.False(t, current.Dirty, "cancel commits nothing")

	assert.ErrorIs(t, svc.CancelEdit(view.ID), ErrNotEditing)
}

func TestBeginEdit_RequiresHover(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	_, err = svc.BeginEdit(view.ID)
	assert.ErrorIs(t, err, ErrNotHovering)

	// A miss clears the hover, so editing is again impossible
	_, err = svc.Hover(view.ID, 1, 0)
	require.NoError(t, err)
	miss, err := svc.Hover(view.ID, 1, 3)
	require.NoError(t, err)
	require.False(t, miss.Matched)

	_, err = svc.BeginEdit(view.ID)
	assert.ErrorIs(t, err, ErrNotHovering)
}

func TestSaveEdit_RequiresEditing(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	_, err = svc.SaveEdit(context.Background(), view.ID, "text")
	assert.ErrorIs(t, err, ErrNotEditing)
}

// A render that was superseded while in flight must not overwrite the
// newer render's state.
func TestRender_LatestWins(t *testing.T) {
	release := make(chan struct{})
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		switch call {
		case 1: // initial render
			return makeTestRenderResult(doc, 1), nil
		case 2: // slow render, superseded while blocked
			<-release
			return makeTestRenderResult(doc, 9), nil
		default: // newest render
			return makeTestRenderResult(doc, 4), nil
		}
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)
	renderer.waitForRender(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Blocks on the release channel; its result must be discarded
		_, _ = svc.Rerender(context.Background(), view.ID)
	}()

	// Make sure the slow render is in flight before issuing the newer one
	require.Eventually(t, func() bool {
		renderer.mu.Lock()
		defer renderer.mu.Unlock()
		return renderer.calls == 2
	}, 2*time.Second, 5*time.Millisecond)

	newest, err := svc.Rerender(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, newest.PageCount)

	close(release)
	wg.Wait()

	current, err := svc.GetSession(view.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, current.PageCount, "stale render result must not be adopted")
}

func TestRender_PageCountChangeMovesFields(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		if call == 1 {
			return makeTestRenderResult(doc, 2), nil
		}
		return makeTestRenderResult(doc, 5), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)
	for _, f := range view.Fields {
		require.Equal(t, 2, f.PageNumber)
	}

	after, err := svc.Rerender(context.Background(), view.ID)
	require.NoError(t, err)
	for _, f := range after.Fields {
		assert.Equal(t, 5, f.PageNumber, "fields follow the last page on every count update")
	}
}

func TestFieldOperations(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 3), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	field, err := svc.AddField(view.ID, AddFieldRequest{
		Type:           models.FieldTypeDate,
		SignatoryIndex: 1,
		PageNumber:     9,
		X:              100, Y: 200, Width: 108, Height: 40,
		Label: "Date signed",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, field.PageNumber, "manual placement clamps to the page range")

	moved, err := svc.MoveField(view.ID, field.ID, MoveFieldRequest{PageNumber: 2, X: 150, Y: 250})
	require.NoError(t, err)
	assert.Equal(t, 2, moved.PageNumber)
	assert.Equal(t, 150.0, moved.X)
	assert.Equal(t, 108.0, moved.Width, "zero width keeps the existing size")

	require.NoError(t, svc.RemoveField(view.ID, field.ID))
	assert.ErrorIs(t, svc.RemoveField(view.ID, field.ID), ErrFieldNotFound)

	_, err = svc.AddField(view.ID, AddFieldRequest{Type: models.FieldTypeSignature, SignatoryIndex: 9})
	assert.ErrorIs(t, err, ErrUnknownSignatory)
}

func TestSend_SubmitsConvertedGeometry(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		result := makeTestRenderResult(doc, 1)
		result.DefaultFieldSuggestions = []FieldSuggestion{
			{Type: models.FieldTypeSignature, SignatoryIndex: 0, PageNumber: 1, X: 72, Y: 72, Width: 144, Height: 36, Label: "Alice Chen"},
		}
		return result, nil
	})
	signer := &fakeSigner{}
	svc := newTestService(renderer, signer)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "env-123", result.EnvelopeID)

	signer.mu.Lock()
	req := signer.lastReq
	signer.mu.Unlock()
	require.NotNil(t, req)
	require.Len(t, req.Fields, 1)
	assert.Equal(t, 96, req.Fields[0].X)
	assert.Equal(t, 96, req.Fields[0].Y)
	assert.Equal(t, 192, req.Fields[0].Width)
	assert.Equal(t, 48, req.Fields[0].Height)
	assert.Equal(t, "sig-1", req.Signatories[0].Party)
	assert.Equal(t, []byte("%PDF-test"), req.DocumentBytes)
}

func TestSend_RejectionLeavesStateUnchanged(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	signer := &fakeSigner{
		submitFn: func(req *SigningRequest) (*SigningResult, error) {
			return nil, errors.New("signing service rejected the submission: quota exceeded")
		},
	}
	svc := newTestService(renderer, signer)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)
	before, err := svc.ListFields(view.ID)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), view.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	// Fields and document untouched; the user may retry
	after, err := svc.ListFields(view.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClose_ReleasesHandleOnce(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Close(view.ID))
	assert.ErrorIs(t, svc.Close(view.ID), ErrSessionNotFound)

	_, err = svc.Hover(view.ID, 1, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRenderHandle_ReleaseExactlyOnce(t *testing.T) {
	handle := &renderHandle{data: []byte("%PDF-")}
	require.NoError(t, handle.release())
	assert.Nil(t, handle.data)
	assert.ErrorIs(t, handle.release(), ErrHandleReleased)
}

func TestDownload_CopiesBytes(t *testing.T) {
	renderer := newFakeRenderer(func(call int, doc models.Document) (*RenderResult, error) {
		return makeTestRenderResult(doc, 1), nil
	})
	svc := newTestService(renderer, nil)

	view, err := svc.CreateSession(context.Background(), CreateSessionRequest{
		UserID:   uuid.New(),
		Document: signedTestDocument(),
	})
	require.NoError(t, err)

	data, err := svc.Download(view.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-test"), data)

	// Mutating the returned copy must not corrupt the session's handle
	data[0] = 'X'
	again, err := svc.Download(view.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-test"), again)
}
