package export

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"pdfmark/internal/annotation"

	"golang.org/x/text/encoding/charmap"
)

// Resource names registered on every annotated page.
const (
	GStateName = "GSpdfmark0"
	FontName   = "FPdfmark0"
)

const (
	HighlightOpacity = 0.5
	UnderlineWidth   = 2.0
	SignatureWidth   = 1.5
	CommentFontSize  = 10.0
)

// kappa places cubic control points for a quarter circle.
const kappa = 0.5522847498

// PageOps returns the content stream operators drawing anns with t.
func PageOps(anns []annotation.Annotation, t Transform) ([]byte, error) {
	var b bytes.Buffer
	for _, a := range anns {
		if err := writeOps(&b, a, t); err != nil {
			return nil, fmt.Errorf("annotation %s: %w", a.ID, err)
		}
	}
	return b.Bytes(), nil
}

func writeOps(b *bytes.Buffer, a annotation.Annotation, t Transform) error {
	c, err := annotation.ParseColor(a.Color)
	if err != nil {
		return err
	}
	p := a.Position
	b.WriteString("q\n")
	switch a.Type {
	case annotation.Highlight:
		tl := t.Point(annotation.Point{X: p.X, Y: p.Y})
		w, h := t.Length(p.Width), t.Length(p.Height)
		fmt.Fprintf(b, "/%s gs\n", GStateName)
		fmt.Fprintf(b, "%s %s %s rg\n", num(c.R), num(c.G), num(c.B))
		fmt.Fprintf(b, "%s %s %s %s re f\n", num(tl.X), num(tl.Y-h), num(w), num(h))

	case annotation.Underline:
		from := t.Point(annotation.Point{X: p.X, Y: p.Y})
		to := t.Point(annotation.Point{X: p.X + p.Width, Y: p.Y})
		fmt.Fprintf(b, "%s %s %s RG %s w 0 J\n", num(c.R), num(c.G), num(c.B), num(UnderlineWidth))
		fmt.Fprintf(b, "%s %s m %s %s l S\n", num(from.X), num(from.Y), num(to.X), num(to.Y))

	case annotation.Signature:
		pts := a.AbsolutePoints()
		if len(pts) < 2 {
			return annotation.ErrMissingPoints
		}
		start, segs := annotation.Smooth(pts)
		cur := t.Point(start)
		fmt.Fprintf(b, "%s %s %s RG %s w 1 J 1 j\n", num(c.R), num(c.G), num(c.B), num(SignatureWidth))
		fmt.Fprintf(b, "%s %s m\n", num(cur.X), num(cur.Y))
		for _, s := range segs {
			q, end := t.Point(s.Control), t.Point(s.End)
			c1, c2 := cubic(cur, q, end)
			fmt.Fprintf(b, "%s %s %s %s %s %s c\n", num(c1.X), num(c1.Y), num(c2.X), num(c2.Y), num(end.X), num(end.Y))
			cur = end
		}
		b.WriteString("S\n")

	case annotation.Comment:
		center := t.Point(annotation.Point{X: p.X, Y: p.Y})
		fmt.Fprintf(b, "%s %s %s rg\n", num(c.R), num(c.G), num(c.B))
		circle(b, center, t.Length(annotation.IconRadius))
		b.WriteString("f\n")
		if a.Comment != "" {
			at := t.Point(annotation.Point{X: p.X + 15, Y: p.Y + 5})
			fmt.Fprintf(b, "BT /%s %s Tf 0 0 0 rg %s %s Td %s Tj ET\n",
				FontName, num(CommentFontSize), num(at.X), num(at.Y), literal(a.Comment))
		}

	default:
		return fmt.Errorf("%w: %q", annotation.ErrInvalidType, a.Type)
	}
	b.WriteString("Q\n")
	return nil
}

func circle(b *bytes.Buffer, c annotation.Point, r float64) {
	k := r * kappa
	fmt.Fprintf(b, "%s %s m\n", num(c.X+r), num(c.Y))
	fmt.Fprintf(b, "%s %s %s %s %s %s c\n", num(c.X+r), num(c.Y+k), num(c.X+k), num(c.Y+r), num(c.X), num(c.Y+r))
	fmt.Fprintf(b, "%s %s %s %s %s %s c\n", num(c.X-k), num(c.Y+r), num(c.X-r), num(c.Y+k), num(c.X-r), num(c.Y))
	fmt.Fprintf(b, "%s %s %s %s %s %s c\n", num(c.X-r), num(c.Y-k), num(c.X-k), num(c.Y-r), num(c.X), num(c.Y-r))
	fmt.Fprintf(b, "%s %s %s %s %s %s c\n", num(c.X+k), num(c.Y-r), num(c.X+r), num(c.Y-k), num(c.X+r), num(c.Y))
}

// num formats a coordinate with at most three decimals.
func num(v float64) string {
	v = math.Round(v*1000) / 1000
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// literal encodes s as a PDF string in WinAnsiEncoding. Runes outside the
// code page become '?'.
func literal(s string) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, r := range s {
		ch, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			ch = '?'
		}
		switch ch {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte(')')
	return b.String()
}
