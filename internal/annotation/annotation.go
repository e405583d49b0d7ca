// Package annotation defines annotation records, their validation and the
// pointer-gesture state machine that produces them.
package annotation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the kind of mark an annotation draws.
type Type string

const (
	Highlight Type = "highlight"
	Underline Type = "underline"
	Comment   Type = "comment"
	Signature Type = "signature"
)

// ReferenceWidth is the width of the page-local coordinate space every
// annotation is stored in. Heights follow the page aspect ratio.
const ReferenceWidth = 800.0

// Geometry constants shared by capture, the overlay renderer and the exporter.
const (
	HighlightHeight = 20.0
	HighlightOffset = 15.0
	IconSize        = 20.0
	IconRadius      = 10.0
	MinStrokeLength = 1.0
)

var (
	ErrInvalidType     = errors.New("invalid annotation type")
	ErrInvalidColor    = errors.New("invalid color")
	ErrInvalidPosition = errors.New("invalid annotation position")
	ErrInvalidPage     = errors.New("invalid page number")
	ErrMissingPoints   = errors.New("signature needs at least two points")
	ErrEmptyComment    = errors.New("comment text is empty")
)

// Position is a bounding box in reference coordinates, top-left origin.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a single pointer sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Annotation struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	Color           string    `json:"color"`
	Position        Position  `json:"position"`
	PageNumber      int       `json:"pageNumber"`
	Text            string    `json:"text,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	SignaturePoints []Point   `json:"signaturePoints,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Patch carries the mutable fields of an update; nil fields are left alone.
type Patch struct {
	Color      *string   `json:"color,omitempty"`
	Position   *Position `json:"position,omitempty"`
	PageNumber *int      `json:"pageNumber,omitempty"`
	Text       *string   `json:"text,omitempty"`
	Comment    *string   `json:"comment,omitempty"`
}

// ParseType validates a tool name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Highlight, Underline, Comment, Signature:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// DefaultColor is the color a tool starts with.
func DefaultColor(t Type) string {
	if t == Highlight {
		return "#ffff00"
	}
	return "#000000"
}

// New stamps an ID and creation time on a record.
func New(a Annotation) Annotation {
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	return a
}

// Normalize fills defaults and canonicalizes the color, then validates.
func (a *Annotation) Normalize() error {
	if _, err := ParseType(string(a.Type)); err != nil {
		return err
	}
	if a.Color == "" {
		a.Color = DefaultColor(a.Type)
	}
	c, err := NormalizeColor(a.Color)
	if err != nil {
		return err
	}
	a.Color = c
	return a.Validate()
}

// Validate checks the geometric invariants of a record.
func (a Annotation) Validate() error {
	if a.PageNumber < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, a.PageNumber)
	}
	p := a.Position
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("%w: negative size %.2fx%.2f", ErrInvalidPosition, p.Width, p.Height)
	}
	if !finite(p.X, p.Y, p.Width, p.Height) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidPosition)
	}
	if a.Type == Comment && strings.TrimSpace(a.Comment) == "" {
		return ErrEmptyComment
	}
	if a.Type == Signature {
		if len(a.SignaturePoints) < 2 {
			return ErrMissingPoints
		}
		for _, pt := range a.SignaturePoints {
			if !finite(pt.X, pt.Y) {
				return fmt.Errorf("%w: non-finite stroke point", ErrInvalidPosition)
			}
		}
	}
	return nil
}

// Apply returns a copy of a with the patch merged in, validated.
func (a Annotation) Apply(p Patch) (Annotation, error) {
	if p.Color != nil {
		a.Color = *p.Color
	}
	if p.Position != nil {
		a.Position = *p.Position
	}
	if p.PageNumber != nil {
		a.PageNumber = *p.PageNumber
	}
	if p.Text != nil {
		a.Text = *p.Text
	}
	if p.Comment != nil {
		a.Comment = *p.Comment
	}
	if err := a.Normalize(); err != nil {
		return Annotation{}, err
	}
	return a, nil
}

// Clone deep-copies the point slice so callers cannot alias store state.
func (a Annotation) Clone() Annotation {
	if a.SignaturePoints != nil {
		a.SignaturePoints = append([]Point(nil), a.SignaturePoints...)
	}
	return a
}

// AbsolutePoints returns the signature stroke in reference coordinates.
func (a Annotation) AbsolutePoints() []Point {
	out := make([]Point, len(a.SignaturePoints))
	for i, p := range a.SignaturePoints {
		out[i] = Point{X: a.Position.X + p.X, Y: a.Position.Y + p.Y}
	}
	return out
}
