package annotation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is a color with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// NormalizeColor accepts #RGB or #RRGGBB (the # is optional) and returns #rrggbb.
func NormalizeColor(s string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return "#" + strings.ToLower(hex), nil
}

// ParseColor converts a hex color to RGB fractions.
func ParseColor(s string) (RGB, error) {
	hex, err := NormalizeColor(s)
	if err != nil {
		return RGB{}, err
	}
	v, _ := strconv.ParseUint(hex[1:], 16, 32)
	return RGB{
		R: float64(v>>16&0xff) / 255,
		G: float64(v>>8&0xff) / 255,
		B: float64(v&0xff) / 255,
	}, nil
}

// Viewport is the on-screen rectangle of the overlay surface in CSS pixels.
type Viewport struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scale is the ratio of on-screen pixels to reference units.
func (v Viewport) Scale() float64 {
	if v.Width <= 0 {
		return 1
	}
	return v.Width / ReferenceWidth
}

// ToPage converts a screen point into page-local reference coordinates.
// A zero viewport means the point is already page-local.
func (v Viewport) ToPage(screen Point) Point {
	if v.Width <= 0 {
		return screen
	}
	s := v.Scale()
	return Point{X: (screen.X - v.Left) / s, Y: (screen.Y - v.Top) / s}
}

// ReferenceHeight is the page height in reference units for a page of the given size.
func ReferenceHeight(pageWidth, pageHeight float64) float64 {
	if pageWidth <= 0 {
		return 0
	}
	return ReferenceWidth * pageHeight / pageWidth
}

// Bounds returns the bounding box of pts.
func Bounds(pts []Point) Position {
	if len(pts) == 0 {
		return Position{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Position{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Relative shifts pts so that origin becomes (0, 0).
func Relative(pts []Point, origin Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X - origin.X, Y: p.Y - origin.Y}
	}
	return out
}

// Segment is one quadratic piece of a smoothed stroke.
type Segment struct {
	Control Point
	End     Point
}

// Smooth turns a polyline into quadratic segments that pass through the
// midpoints of consecutive samples, using each sample as the control point.
// The last segment ends on the final sample.
func Smooth(pts []Point) (start Point, segs []Segment) {
	if len(pts) == 0 {
		return Point{}, nil
	}
	start = pts[0]
	if len(pts) == 2 {
		return start, []Segment{{Control: pts[0], End: pts[1]}}
	}
	for i := 1; i < len(pts); i++ {
		prev := pts[i-1]
		mid := Point{X: (prev.X + pts[i].X) / 2, Y: (prev.Y + pts[i].Y) / 2}
		segs = append(segs, Segment{Control: prev, End: mid})
	}
	last := pts[len(pts)-1]
	segs = append(segs, Segment{Control: last, End: last})
	return start, segs
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
