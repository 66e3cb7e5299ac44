package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeKind identifies the variant of a content node
type NodeKind string

const (
	NodeArticle        NodeKind = "article"
	NodeSection        NodeKind = "section"
	NodeParagraph      NodeKind = "paragraph"
	NodeList           NodeKind = "list"
	NodeListItem       NodeKind = "list_item"
	NodeDefinition     NodeKind = "definition"
	NodeDefinitionItem NodeKind = "definition_item"
)

// EffectiveDateBlockID is the reserved identifier for the synthetic
// effective-date block. The effective date lives in document metadata,
// not in the content tree, but the editor addresses it like any block.
const EffectiveDateBlockID = "__effective_date__"

// DefaultEffectiveDateLabel is used when an edited date carries no label
// and the document has none yet.
const DefaultEffectiveDateLabel = "Effective Date:"

// DocumentMetadata holds document-level attributes outside the content tree
type DocumentMetadata struct {
	Title              string    `json:"title"`
	EffectiveDate      *string   `json:"effective_date,omitempty"`
	EffectiveDateLabel *string   `json:"effective_date_label,omitempty"`
	Jurisdiction       *string   `json:"jurisdiction,omitempty"`
	DocumentType       string    `json:"document_type"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// SignatoryRef is a document-level signatory entry. When present it is the
// highest-priority signatory source and its ID is carried through to the
// signing payload unchanged.
type SignatoryRef struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// ContentNode is one node of the document content tree. The tree has fixed
// depth: articles contain sections, sections contain blocks, and the block
// variants (paragraph, list, list item, definition, definition item) bottom
// out at the free-text leaves the editor can touch.
type ContentNode struct {
	Kind     NodeKind      `json:"kind"`
	Title    string        `json:"title,omitempty"`
	Number   string        `json:"number,omitempty"`
	Text     string        `json:"text,omitempty"`
	Term     string        `json:"term,omitempty"`
	Ordered  bool          `json:"ordered,omitempty"`
	Children []ContentNode `json:"children,omitempty"`
}

// IsLeaf reports whether the node carries editable free text
func (n ContentNode) IsLeaf() bool {
	switch n.Kind {
	case NodeParagraph, NodeListItem, NodeDefinitionItem:
		return true
	}
	return false
}

// HasTitle reports whether the node's title attribute is addressable
func (n ContentNode) HasTitle() bool {
	return n.Kind == NodeArticle || n.Kind == NodeSection
}

// Clone returns a deep copy of the node and its subtree
func (n ContentNode) Clone() ContentNode {
	out := n
	if len(n.Children) > 0 {
		out.Children = make([]ContentNode, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

// Document represents a generated legal document: metadata plus the content
// tree. It is the editable source of truth for a review session. Documents
// are treated as immutable values: every edit goes through a With* method
// that returns a new copy, so an in-flight render always sees a stable
// snapshot.
type Document struct {
	Metadata    DocumentMetadata `json:"metadata"`
	Content     []ContentNode    `json:"content"`
	Signatories []SignatoryRef   `json:"signatories,omitempty"`
}

// Value implements driver.Valuer for JSONB
func (d Document) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB
func (d *Document) Scan(value interface{}) error {
	if value == nil {
		*d = Document{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		*d = Document{}
		return nil
	}

	return json.Unmarshal(bytes, d)
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	out := d
	if d.Metadata.EffectiveDate != nil {
		v := *d.Metadata.EffectiveDate
		out.Metadata.EffectiveDate = &v
	}
	if d.Metadata.EffectiveDateLabel != nil {
		v := *d.Metadata.EffectiveDateLabel
		out.Metadata.EffectiveDateLabel = &v
	}
	if d.Metadata.Jurisdiction != nil {
		v := *d.Metadata.Jurisdiction
		out.Metadata.Jurisdiction = &v
	}
	if len(d.Content) > 0 {
		out.Content = make([]ContentNode, len(d.Content))
		for i, node := range d.Content {
			out.Content[i] = node.Clone()
		}
	}
	if len(d.Signatories) > 0 {
		out.Signatories = make([]SignatoryRef, len(d.Signatories))
		copy(out.Signatories, d.Signatories)
	}
	return out
}

// BlockPath addresses a node by the sequence of child indices from the
// document root. Paths are recomputed from the tree on every render pass
// and never stored inside nodes.
type BlockPath []int

// String renders the path as dot-separated indices, e.g. "0.2.1"
func (p BlockPath) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// ParseBlockPath parses a dot-separated index path
func ParseBlockPath(s string) (BlockPath, error) {
	if s == "" {
		return nil, errors.New("empty block path")
	}
	parts := strings.Split(s, ".")
	path := make(BlockPath, len(parts))
	for i, part := range parts {
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid block path %q", s)
		}
		path[i] = idx
	}
	return path, nil
}

// Clone returns a copy of the path
func (p BlockPath) Clone() BlockPath {
	out := make(BlockPath, len(p))
	copy(out, p)
	return out
}

// Equal reports whether two paths address the same node
func (p BlockPath) Equal(o BlockPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// NodeAt walks the content tree to the node at path. Returns nil if the
// path does not address an existing node.
func (d *Document) NodeAt(path BlockPath) *ContentNode {
	if len(path) == 0 {
		return nil
	}
	if path[0] < 0 || path[0] >= len(d.Content) {
		return nil
	}
	node := &d.Content[path[0]]
	for _, idx := range path[1:] {
		if idx < 0 || idx >= len(node.Children) {
			return nil
		}
		node = &node.Children[idx]
	}
	return node
}

// LeafBlock pairs a leaf node's editable text with its current path
type LeafBlock struct {
	Path BlockPath
	Kind NodeKind
	Term string
	Text string
}

// LeafBlocks enumerates every free-text leaf in document order with its
// freshly computed path. Callers must not hold the result across edits.
func (d *Document) LeafBlocks() []LeafBlock {
	var leaves []LeafBlock
	for i := range d.Content {
		collectLeaves(&d.Content[i], BlockPath{i}, &leaves)
	}
	return leaves
}

func collectLeaves(node *ContentNode, path BlockPath, out *[]LeafBlock) {
	if node.IsLeaf() {
		*out = append(*out, LeafBlock{
			Path: path.Clone(),
			Kind: node.Kind,
			Term: node.Term,
			Text: node.Text,
		})
		return
	}
	for i := range node.Children {
		collectLeaves(&node.Children[i], append(path, i), out)
	}
}

// TitleBlock pairs an article/section title with its current path
type TitleBlock struct {
	Path  BlockPath
	Kind  NodeKind
	Title string
}

// TitleBlocks enumerates every non-empty article and section title in
// document order
func (d *Document) TitleBlocks() []TitleBlock {
	var titles []TitleBlock
	for i := range d.Content {
		collectTitles(&d.Content[i], BlockPath{i}, &titles)
	}
	return titles
}

func collectTitles(node *ContentNode, path BlockPath, out *[]TitleBlock) {
	if node.HasTitle() && node.Title != "" {
		*out = append(*out, TitleBlock{
			Path:  path.Clone(),
			Kind:  node.Kind,
			Title: node.Title,
		})
	}
	for i := range node.Children {
		collectTitles(&node.Children[i], append(path, i), out)
	}
}

var (
	ErrBlockNotFound = errors.New("block path does not address a node")
	ErrNotLeaf       = errors.New("block path does not address a text leaf")
	ErrNoTitle       = errors.New("block path does not address a titled node")
)

// WithLeafText returns a copy of the document with only the leaf at path
// carrying the new text. The tree shape is never changed by an edit.
func (d Document) WithLeafText(path BlockPath, text string) (Document, error) {
	out := d.Clone()
	node := out.NodeAt(path)
	if node == nil {
		return Document{}, ErrBlockNotFound
	}
	if !node.IsLeaf() {
		return Document{}, ErrNotLeaf
	}
	node.Text = text
	return out, nil
}

// WithTitle returns a copy of the document with the article/section at
// path carrying the new title
func (d Document) WithTitle(path BlockPath, title string) (Document, error) {
	out := d.Clone()
	node := out.NodeAt(path)
	if node == nil {
		return Document{}, ErrBlockNotFound
	}
	if !node.HasTitle() {
		return Document{}, ErrNoTitle
	}
	node.Title = title
	return out, nil
}

// WithEffectiveDate returns a copy of the document with the effective-date
// metadata pair replaced. An empty label keeps the existing label, or the
// default when none is set.
func (d Document) WithEffectiveDate(label, value string) Document {
	out := d.Clone()
	if label == "" {
		if out.Metadata.EffectiveDateLabel == nil {
			label = DefaultEffectiveDateLabel
		} else {
			label = *out.Metadata.EffectiveDateLabel
		}
	}
	out.Metadata.EffectiveDateLabel = &label
	out.Metadata.EffectiveDate = &value
	return out
}

// EffectiveDateText is the display form of the effective-date pair, used
// to seed the editor when the synthetic block is opened
func (d *Document) EffectiveDateText() string {
	label := DefaultEffectiveDateLabel
	if d.Metadata.EffectiveDateLabel != nil {
		label = *d.Metadata.EffectiveDateLabel
	}
	value := ""
	if d.Metadata.EffectiveDate != nil {
		value = *d.Metadata.EffectiveDate
	}
	return strings.TrimSpace(label + " " + value)
}
