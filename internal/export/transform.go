package export

import (
	"math"

	"pdfmark/internal/annotation"
)

// Box is a page rectangle in PDF user space.
type Box struct {
	LLX, LLY, URX, URY float64
}

// Letter is used when a page declares no usable MediaBox.
var Letter = Box{URX: 612, URY: 792}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }

// Transform maps page-local reference coordinates (top-left origin, 800 units
// wide) onto a page's user space (bottom-left origin).
type Transform struct {
	Scale float64
	Left  float64
	Top   float64
}

func NewTransform(b Box) Transform {
	return Transform{Scale: b.Width() / annotation.ReferenceWidth, Left: b.LLX, Top: b.URY}
}

func (t Transform) Point(p annotation.Point) annotation.Point {
	return annotation.Point{X: t.Left + p.X*t.Scale, Y: t.Top - p.Y*t.Scale}
}

func (t Transform) Length(v float64) float64 { return v * t.Scale }

// cubic converts a quadratic segment starting at p0 into cubic control points.
func cubic(p0, q, p annotation.Point) (c1, c2 annotation.Point) {
	c1 = annotation.Point{X: p0.X + 2.0/3.0*(q.X-p0.X), Y: p0.Y + 2.0/3.0*(q.Y-p0.Y)}
	c2 = annotation.Point{X: p.X + 2.0/3.0*(q.X-p.X), Y: p.Y + 2.0/3.0*(q.Y-p.Y)}
	return c1, c2
}

func valid(b Box) bool {
	for _, v := range []float64{b.LLX, b.LLY, b.URX, b.URY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width() > 0 && b.Height() > 0
}
