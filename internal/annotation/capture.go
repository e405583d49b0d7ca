package annotation

import (
	"errors"
	"math"
	"strings"
)

var (
	ErrNoTool         = errors.New("no annotation tool selected")
	ErrNoPending      = errors.New("no pending comment")
	ErrAlreadyDrawing = errors.New("gesture already in progress")
)

// Capture turns press/move/release pointer events on one overlay surface into
// annotation records. It is not safe for concurrent use; each connection owns one.
type Capture struct {
	tool    Type
	color   string
	page    int
	drawing bool
	start   Point
	current Point
	points  []Point
	pending *Annotation
}

// NewCapture returns a capture with no tool selected on page 1.
func NewCapture() *Capture {
	return &Capture{page: 1}
}

// SetTool selects the active tool. An empty tool disables capture and
// abandons any gesture in progress.
func (c *Capture) SetTool(t Type) error {
	if t != "" {
		if _, err := ParseType(string(t)); err != nil {
			return err
		}
	}
	if t != c.tool {
		c.reset()
	}
	c.tool = t
	return nil
}

// SetColor sets the stroke/fill color for subsequent marks.
func (c *Capture) SetColor(s string) error {
	norm, err := NormalizeColor(s)
	if err != nil {
		return err
	}
	c.color = norm
	return nil
}

// Color is the color the next mark will use.
func (c *Capture) Color() string {
	if c.color != "" {
		return c.color
	}
	if c.tool == "" {
		return ""
	}
	return DefaultColor(c.tool)
}

// SetPage sets the page subsequent marks land on.
func (c *Capture) SetPage(n int) error {
	if n < 1 {
		return ErrInvalidPage
	}
	c.page = n
	return nil
}

// Page is the page the next mark lands on.
func (c *Capture) Page() int { return c.page }

// Drawing reports whether a press has been seen without its release.
func (c *Capture) Drawing() bool { return c.drawing }

// Pending returns the comment waiting for its text, if any.
func (c *Capture) Pending() (Annotation, bool) {
	if c.pending == nil {
		return Annotation{}, false
	}
	return *c.pending, true
}

// Press records the start of a gesture.
func (c *Capture) Press(p Point) error {
	if c.tool == "" {
		return ErrNoTool
	}
	if c.drawing {
		return ErrAlreadyDrawing
	}
	c.drawing = true
	c.start, c.current = p, p
	c.points = c.points[:0]
	if c.tool == Signature {
		c.points = append(c.points, p)
	}
	return nil
}

// Move advances the gesture and returns the in-progress shape to preview.
// ok is false when no gesture is active.
func (c *Capture) Move(p Point) (preview Annotation, ok bool) {
	if !c.drawing {
		return Annotation{}, false
	}
	if c.tool == Highlight || c.tool == Underline {
		p.Y = c.start.Y
	}
	c.current = p
	if c.tool == Signature {
		c.points = append(c.points, p)
	}
	return c.shape(), true
}

// Release ends the gesture. It returns the committed record, or ok=false when
// the gesture was degenerate or produced a pending comment.
func (c *Capture) Release(p Point) (Annotation, bool) {
	if !c.drawing {
		return Annotation{}, false
	}
	if c.tool == Highlight || c.tool == Underline {
		p.Y = c.start.Y
	}
	if c.tool == Signature && (len(c.points) == 0 || c.points[len(c.points)-1] != p) {
		c.points = append(c.points, p)
	}
	c.current = p
	a := c.shape()
	c.drawing = false
	c.points = c.points[:0]

	switch c.tool {
	case Highlight, Underline:
		if a.Position.Width < MinStrokeLength {
			return Annotation{}, false
		}
	case Signature:
		if distinct(a.SignaturePoints) < 2 {
			return Annotation{}, false
		}
	case Comment:
		pending := a
		c.pending = &pending
		return Annotation{}, false
	}
	return New(a), true
}

// SubmitComment commits the pending comment with its text. Blank text is
// rejected and the comment stays pending.
func (c *Capture) SubmitComment(text string) (Annotation, error) {
	if c.pending == nil {
		return Annotation{}, ErrNoPending
	}
	if strings.TrimSpace(text) == "" {
		return Annotation{}, ErrEmptyComment
	}
	a := *c.pending
	a.Comment = text
	c.pending = nil
	return New(a), nil
}

// CancelComment drops the pending comment.
func (c *Capture) CancelComment() {
	c.pending = nil
}

func (c *Capture) reset() {
	c.drawing = false
	c.points = c.points[:0]
	c.pending = nil
}

// shape builds the record for the current gesture state.
func (c *Capture) shape() Annotation {
	a := Annotation{Type: c.tool, Color: c.Color(), PageNumber: c.page}
	x0, x1 := c.start.X, c.current.X
	switch c.tool {
	case Highlight:
		a.Position = Position{X: math.Min(x0, x1), Y: c.start.Y - HighlightOffset, Width: math.Abs(x1 - x0), Height: HighlightHeight}
	case Underline:
		a.Position = Position{X: math.Min(x0, x1), Y: c.start.Y, Width: math.Abs(x1 - x0)}
	case Comment:
		a.Position = Position{X: c.start.X, Y: c.start.Y, Width: IconSize, Height: IconSize}
	case Signature:
		pts := append([]Point(nil), c.points...)
		a.Position = Bounds(pts)
		a.SignaturePoints = Relative(pts, Point{X: a.Position.X, Y: a.Position.Y})
	}
	return a
}

func distinct(pts []Point) int {
	seen := make(map[Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}
