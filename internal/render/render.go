// Package render paints annotation records onto a transparent raster that the
// browser stacks above the rendered PDF page.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"pdfmark/internal/annotation"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	HighlightAlpha = 0.5
	StrokeWidth    = 2.0
	CommentSize    = 12.0
	MaxPixelWidth  = 4096
)

var ErrBadSize = errors.New("invalid overlay size")

var (
	fontOnce   sync.Once
	fontSource *text.FontSource
	fontErr    error
)

func font() (*text.FontSource, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewFontSource(goregular.TTF)
	})
	return fontSource, fontErr
}

// Overlay is a drawing surface in reference coordinates.
type Overlay struct {
	dc    *gg.Context
	scale float64
}

// NewOverlay creates a surface pixelWidth pixels wide for a page of the given
// size in points. The height follows the page aspect ratio.
func NewOverlay(pixelWidth int, pageWidth, pageHeight float64) (*Overlay, error) {
	if pixelWidth <= 0 || pixelWidth > MaxPixelWidth || pageWidth <= 0 || pageHeight <= 0 {
		return nil, fmt.Errorf("%w: %dpx for %.1fx%.1fpt", ErrBadSize, pixelWidth, pageWidth, pageHeight)
	}
	scale := float64(pixelWidth) / annotation.ReferenceWidth
	h := int(math.Ceil(annotation.ReferenceHeight(pageWidth, pageHeight) * scale))
	if h <= 0 || h > 4*MaxPixelWidth {
		return nil, fmt.Errorf("%w: height %dpx", ErrBadSize, h)
	}
	dc := gg.NewContext(pixelWidth, h)
	dc.Scale(scale, scale)
	return &Overlay{dc: dc, scale: scale}, nil
}

func (o *Overlay) Width() int  { return o.dc.Width() }
func (o *Overlay) Height() int { return o.dc.Height() }

// Close releases the raster.
func (o *Overlay) Close() error { return o.dc.Close() }

// Draw paints a stored annotation or an in-progress preview.
func (o *Overlay) Draw(a annotation.Annotation) error {
	c, err := annotation.ParseColor(a.Color)
	if err != nil {
		return err
	}
	dc := o.dc
	dc.Push()
	defer dc.Pop()

	p := a.Position
	switch a.Type {
	case annotation.Highlight:
		dc.SetRGBA(c.R, c.G, c.B, HighlightAlpha)
		dc.DrawRectangle(p.X, p.Y, p.Width, p.Height)
		return dc.Fill()

	case annotation.Underline:
		dc.SetRGB(c.R, c.G, c.B)
		dc.SetLineWidth(StrokeWidth)
		dc.SetLineCap(gg.LineCapButt)
		dc.DrawLine(p.X, p.Y, p.X+p.Width, p.Y)
		return dc.Stroke()

	case annotation.Signature:
		pts := a.AbsolutePoints()
		if len(pts) < 2 {
			return nil
		}
		start, segs := annotation.Smooth(pts)
		dc.SetRGB(c.R, c.G, c.B)
		dc.SetLineWidth(StrokeWidth)
		dc.SetLineCap(gg.LineCapRound)
		dc.SetLineJoin(gg.LineJoinRound)
		dc.MoveTo(start.X, start.Y)
		for _, s := range segs {
			dc.QuadraticTo(s.Control.X, s.Control.Y, s.End.X, s.End.Y)
		}
		return dc.Stroke()

	case annotation.Comment:
		dc.SetRGB(c.R, c.G, c.B)
		dc.DrawCircle(p.X, p.Y, annotation.IconRadius)
		if err := dc.Fill(); err != nil {
			return err
		}
		if a.Comment == "" {
			return nil
		}
		src, err := font()
		if err != nil {
			return fmt.Errorf("load overlay font: %w", err)
		}
		// DrawString ignores the transform; place text in pixel space.
		dc.SetFont(src.Face(CommentSize * o.scale))
		dc.SetRGB(0, 0, 0)
		dc.DrawString(a.Comment, (p.X+15)*o.scale, (p.Y+5)*o.scale)
		return nil
	}
	return fmt.Errorf("%w: %q", annotation.ErrInvalidType, a.Type)
}

// PNG encodes the surface.
func (o *Overlay) PNG() ([]byte, error) {
	if err := o.dc.FlushGPU(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := o.dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPage draws every annotation onto a fresh overlay and returns it as PNG.
// Records that fail to draw are skipped and reported in the returned error
// only when nothing could be drawn.
func RenderPage(anns []annotation.Annotation, pixelWidth int, pageWidth, pageHeight float64) ([]byte, error) {
	o, err := NewOverlay(pixelWidth, pageWidth, pageHeight)
	if err != nil {
		return nil, err
	}
	defer o.Close()

	var firstErr error
	drawn := 0
	for _, a := range anns {
		if err := o.Draw(a); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("annotation %s: %w", a.ID, err)
			}
			continue
		}
		drawn++
	}
	if drawn == 0 && firstErr != nil {
		return nil, firstErr
	}
	return o.PNG()
}
