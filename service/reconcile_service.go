package service

import (
	"errors"
	"strings"

	"reviewdesk-backend/models"
)

// Reconciler maps pointer interactions on rendered text fragments back to
// the document nodes that produced them, and maps committed edits back
// into a new document value.
//
// Fragments carry no stable identity, so every resolution is re-derived
// from text content: normalize, find a containing leaf, expand the span
// over neighbouring fragments, then gate the expansion on token overlap.
type Reconciler struct {
	similarityFloor    float64
	sameLineTolerance  float64
	maxUngatedSpan     int
	shortFragmentRunes int
	highlightPadding   float64
}

// ReconcilerOption is a functional option for Reconciler
type ReconcilerOption func(*Reconciler)

// WithSimilarityFloor sets the minimum token-overlap similarity an
// expanded span must reach before it is trusted
func WithSimilarityFloor(floor float64) ReconcilerOption {
	return func(r *Reconciler) {
		r.similarityFloor = floor
	}
}

// WithSameLineTolerance sets the vertical distance, in points, within
// which two fragments count as the same line
func WithSameLineTolerance(tolerance float64) ReconcilerOption {
	return func(r *Reconciler) {
		r.sameLineTolerance = tolerance
	}
}

// NewReconciler creates a reconciler with the default tuning. The
// similarity floor and line tolerance are empirical; they are exposed as
// options so callers can tune them against their renderer.
func NewReconciler(opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		similarityFloor:    0.3,
		sameLineTolerance:  5.0,
		maxUngatedSpan:     5,
		shortFragmentRunes: 3,
		highlightPadding:   4.0,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// effectiveDateKeywords trigger the synthetic effective-date block. The
// check runs before generic matching because effective-date text is
// metadata, not a tree leaf.
var effectiveDateKeywords = []string{
	"effective date",
	"commencement date",
	"start date",
	"execution date",
	"date:",
}

// EditTarget identifies what a committed edit writes to: a tree leaf, a
// node's title attribute, or the synthetic effective-date metadata pair
type EditTarget struct {
	Path            models.BlockPath
	IsTitle         bool
	IsEffectiveDate bool
}

// BlockID is the stable-within-one-pass identifier of the target, used by
// the UI boundary to describe the highlighted block
func (t EditTarget) BlockID() string {
	if t.IsEffectiveDate {
		return models.EffectiveDateBlockID
	}
	return t.Path.String()
}

// Match is a successful fragment-to-node resolution
type Match struct {
	Target           EditTarget
	FragmentIndices  []int
	BlockKind        models.NodeKind
}

// Resolve maps the fragment at fragmentIndex on pageNumber to the document
// node that produced it. Returns nil when no confident match exists; the
// caller must treat nil as "do nothing", never guess.
func (r *Reconciler) Resolve(doc *models.Document, layer *models.TextLayer, pageNumber, fragmentIndex int) *Match {
	fragments := layer.Page(pageNumber)
	if fragmentIndex < 0 || fragmentIndex >= len(fragments) {
		return nil
	}
	fragment := fragments[fragmentIndex]
	normFragment := normalizeText(fragment.Text)
	if normFragment == "" {
		return nil
	}

	if m := r.matchEffectiveDate(fragments, fragmentIndex, normFragment); m != nil {
		return m
	}

	target, candidate, kind, ok := r.findCandidate(doc, normFragment)
	if !ok {
		return nil
	}

	lo, hi := r.expandSpan(fragments, fragmentIndex, candidate)

	// A long span whose combined text barely overlaps the candidate has
	// almost certainly absorbed unrelated page furniture (running headers,
	// page numbers). Collapse it back to the hovered fragment.
	if hi-lo+1 > r.maxUngatedSpan {
		var joined strings.Builder
		for i := lo; i <= hi; i++ {
			joined.WriteString(fragments[i].Text)
			joined.WriteByte(' ')
		}
		if tokenSimilarity(normalizeText(joined.String()), candidate) < r.similarityFloor {
			lo, hi = fragmentIndex, fragmentIndex
		}
	}

	indices := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		indices = append(indices, i)
	}

	return &Match{
		Target:          target,
		FragmentIndices: indices,
		BlockKind:       kind,
	}
}

// matchEffectiveDate returns the synthetic effective-date match when the
// fragment contains one of the trigger phrases. The matched set is every
// fragment on the same rendered line, since label and value usually arrive
// as separate fragments.
func (r *Reconciler) matchEffectiveDate(fragments []models.TextFragment, fragmentIndex int, normFragment string) *Match {
	triggered := false
	for _, keyword := range effectiveDateKeywords {
		if strings.Contains(normFragment, keyword) {
			triggered = true
			break
		}
	}
	if !triggered {
		return nil
	}

	baseline := fragments[fragmentIndex].BoundingBox.Y
	var indices []int
	for i, f := range fragments {
		dy := f.BoundingBox.Y - baseline
		if dy < 0 {
			dy = -dy
		}
		if dy <= r.sameLineTolerance {
			indices = append(indices, i)
		}
	}

	return &Match{
		Target:          EditTarget{IsEffectiveDate: true},
		FragmentIndices: indices,
	}
}

// findCandidate locates the first leaf block, then the first title, whose
// normalized text contains the fragment's normalized text
func (r *Reconciler) findCandidate(doc *models.Document, normFragment string) (EditTarget, string, models.NodeKind, bool) {
	for _, leaf := range doc.LeafBlocks() {
		text := leaf.Text
		if leaf.Kind == models.NodeDefinitionItem && leaf.Term != "" {
			text = leaf.Term + " " + text
		}
		norm := normalizeText(text)
		if norm != "" && strings.Contains(norm, normFragment) {
			return EditTarget{Path: leaf.Path}, norm, leaf.Kind, true
		}
	}
	for _, title := range doc.TitleBlocks() {
		norm := normalizeText(title.Title)
		if norm != "" && strings.Contains(norm, normFragment) {
			return EditTarget{Path: title.Path, IsTitle: true}, norm, title.Kind, true
		}
	}
	return EditTarget{}, "", "", false
}

// expandSpan grows the fragment range around fragmentIndex while each
// neighbour is either a substring of the candidate's normalized text or
// short enough to be punctuation/connector noise
func (r *Reconciler) expandSpan(fragments []models.TextFragment, fragmentIndex int, candidate string) (lo, hi int) {
	absorbs := func(i int) bool {
		norm := normalizeText(fragments[i].Text)
		if len([]rune(norm)) <= r.shortFragmentRunes {
			return true
		}
		return strings.Contains(candidate, norm)
	}

	lo = fragmentIndex
	for lo > 0 && absorbs(lo-1) {
		lo--
	}
	hi = fragmentIndex
	for hi < len(fragments)-1 && absorbs(hi+1) {
		hi++
	}
	return lo, hi
}

// HighlightBox is the axis-aligned union of the matched fragments'
// rectangles expanded by a fixed padding, relative to the page
func (r *Reconciler) HighlightBox(layer *models.TextLayer, pageNumber int, indices []int) models.BoundingBox {
	fragments := layer.Page(pageNumber)
	var box models.BoundingBox
	first := true
	for _, i := range indices {
		if i < 0 || i >= len(fragments) {
			continue
		}
		if first {
			box = fragments[i].BoundingBox
			first = false
			continue
		}
		box = box.Union(fragments[i].BoundingBox)
	}
	return box.Expand(r.highlightPadding)
}

var ErrInvalidEditTarget = errors.New("edit target does not address an editable block")

// Commit produces a new document with the edit applied. The tree shape is
// never changed: a leaf edit replaces only that leaf's text, a title edit
// replaces only the title attribute, and an effective-date edit routes to
// metadata.
func (r *Reconciler) Commit(doc models.Document, target EditTarget, text string) (models.Document, error) {
	if target.IsEffectiveDate {
		label, value := ParseEffectiveDate(text)
		return doc.WithEffectiveDate(label, value), nil
	}
	if len(target.Path) == 0 {
		return models.Document{}, ErrInvalidEditTarget
	}
	if target.IsTitle {
		return doc.WithTitle(target.Path, text)
	}
	return doc.WithLeafText(target.Path, text)
}

// ParseEffectiveDate splits an edited effective-date string into label and
// value. Text up to and including the first colon becomes the label; with
// no colon the whole string is the value and the label is left empty so the
// document keeps its prior label.
func ParseEffectiveDate(text string) (label, value string) {
	if idx := strings.Index(text, ":"); idx >= 0 {
		return strings.TrimSpace(text[:idx+1]), strings.TrimSpace(text[idx+1:])
	}
	return "", strings.TrimSpace(text)
}

// normalizeText lowercases and collapses all whitespace runs to single
// spaces
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokenSimilarity is the share of distinct words (longer than two runes)
// the two texts have in common, relative to the larger word set
func tokenSimilarity(a, b string) float64 {
	wordsA := distinctWords(a)
	wordsB := distinctWords(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	common := 0
	for word := range wordsA {
		if _, ok := wordsB[word]; ok {
			common++
		}
	}

	larger := len(wordsA)
	if len(wordsB) > larger {
		larger = len(wordsB)
	}
	return float64(common) / float64(larger)
}

func distinctWords(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(s) {
		if len([]rune(word)) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}
