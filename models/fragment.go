package models

// BoundingBox is a page-relative rectangle in the rendering engine's unit
// space (points, 72 per inch)
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Union returns the smallest axis-aligned box covering both rectangles
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x1 := min(b.X, o.X)
	y1 := min(b.Y, o.Y)
	x2 := max(b.X+b.Width, o.X+o.Width)
	y2 := max(b.Y+b.Height, o.Y+o.Height)
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Expand grows the box by pad on every side
func (b BoundingBox) Expand(pad float64) BoundingBox {
	return BoundingBox{
		X:      b.X - pad,
		Y:      b.Y - pad,
		Width:  b.Width + 2*pad,
		Height: b.Height + 2*pad,
	}
}

// TextFragment is one positioned run of rendered text. Fragments carry no
// structural tags and no stable identity: they are produced fresh on every
// render and are only meaningful by position and content.
type TextFragment struct {
	Text        string      `json:"text"`
	PageNumber  int         `json:"page_number"`
	BoundingBox BoundingBox `json:"bounding_box"`
	OrderIndex  int         `json:"order_index"`
}

// TextLayer is the per-page fragment index for one rendered output.
// Rebuilt from every render response and discarded on the next; never
// persisted.
type TextLayer struct {
	Pages [][]TextFragment `json:"pages"`
}

// Page returns the ordered fragments of a 1-based page number, or nil if
// the page does not exist
func (l *TextLayer) Page(pageNumber int) []TextFragment {
	if pageNumber < 1 || pageNumber > len(l.Pages) {
		return nil
	}
	return l.Pages[pageNumber-1]
}
