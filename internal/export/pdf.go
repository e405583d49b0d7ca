// Package export flattens annotation records into a PDF as vector graphics.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"

	"pdfmark/internal/annotation"
	"pdfmark/pkg/logger"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidPDF = errors.New("invalid PDF")

// maxTreeDepth bounds the /Parent walk when resolving inherited attributes.
const maxTreeDepth = 32

// Info describes an uploaded document.
type Info struct {
	PageCount int
	Pages     []Box
}

// Result is an exported document plus what went into it.
type Result struct {
	Data        []byte
	Pages       int
	Annotations int
	Skipped     int
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func read(data []byte) (*model.Context, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidPDF)
	}
	ctx, err := api.ReadAndValidate(bytes.NewReader(data), configuration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return ctx, nil
}

// Inspect validates data as a PDF and reports its page count and MediaBoxes.
func Inspect(data []byte) (*Info, error) {
	ctx, err := read(data)
	if err != nil {
		return nil, err
	}
	info := &Info{PageCount: ctx.PageCount, Pages: make([]Box, ctx.PageCount)}
	for i := 1; i <= ctx.PageCount; i++ {
		pageDict, _, _, err := ctx.PageDict(i, false)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrInvalidPDF, i, err)
		}
		info.Pages[i-1] = mediaBox(ctx, pageDict)
	}
	return info, nil
}

type pageWork struct {
	number int
	dict   types.Dict
	anns   []annotation.Annotation
	ops    []byte
}

// Export draws anns onto a copy of data. Annotations on pages the document
// does not have are skipped. With no annotations the input is returned as is.
func Export(ctx context.Context, data []byte, anns []annotation.Annotation) (*Result, error) {
	if len(anns) == 0 {
		if _, err := read(data); err != nil {
			return nil, err
		}
		return &Result{Data: append([]byte(nil), data...)}, nil
	}

	pdf, err := read(data)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	byPage := make(map[int][]annotation.Annotation)
	for _, a := range anns {
		if a.PageNumber < 1 || a.PageNumber > pdf.PageCount {
			logger.Sugar.Warnf("Export: skipping annotation %s on page %d of %d", a.ID, a.PageNumber, pdf.PageCount)
			res.Skipped++
			continue
		}
		byPage[a.PageNumber] = append(byPage[a.PageNumber], a)
	}

	work := make([]*pageWork, 0, len(byPage))
	for n := 1; n <= pdf.PageCount; n++ {
		list, ok := byPage[n]
		if !ok {
			continue
		}
		pageDict, _, _, err := pdf.PageDict(n, false)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrInvalidPDF, n, err)
		}
		work = append(work, &pageWork{number: n, dict: pageDict, anns: list})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, w := range work {
		t := NewTransform(mediaBox(pdf, w.dict))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ops, err := PageOps(w.anns, t)
			if err != nil {
				return fmt.Errorf("page %d: %w", w.number, err)
			}
			w.ops = ops
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The xref table is not safe for concurrent writes.
	for _, w := range work {
		if err := attach(pdf, w.dict, w.ops); err != nil {
			return nil, fmt.Errorf("page %d: %w", w.number, err)
		}
		res.Pages++
		res.Annotations += len(w.anns)
	}

	var out bytes.Buffer
	if err := api.WriteContext(pdf, &out); err != nil {
		return nil, fmt.Errorf("write PDF: %w", err)
	}
	res.Data = out.Bytes()
	return res, nil
}

// attach isolates the existing content in q/Q, appends ops as a new stream and
// registers the graphics state and font the ops refer to.
func attach(ctx *model.Context, pageDict types.Dict, ops []byte) error {
	res, err := pageResources(ctx, pageDict)
	if err != nil {
		return err
	}
	if err := addResource(ctx, res, "ExtGState", GStateName, types.Dict{
		"Type": types.Name("ExtGState"),
		"ca":   types.Float(HighlightOpacity),
		"CA":   types.Float(HighlightOpacity),
	}); err != nil {
		return err
	}
	if err := addResource(ctx, res, "Font", FontName, types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
		"Encoding": types.Name("WinAnsiEncoding"),
	}); err != nil {
		return err
	}

	push, err := stream(ctx, []byte("q\n"))
	if err != nil {
		return err
	}
	pop, err := stream(ctx, []byte("Q\n"))
	if err != nil {
		return err
	}
	ours, err := stream(ctx, ops)
	if err != nil {
		return err
	}

	existing, err := contents(ctx, pageDict)
	if err != nil {
		return err
	}
	arr := types.Array{*push}
	arr = append(arr, existing...)
	arr = append(arr, *pop, *ours)
	pageDict.Update("Contents", arr)
	return nil
}

func stream(ctx *model.Context, buf []byte) (*types.IndirectRef, error) {
	sd, err := ctx.NewStreamDictForBuf(buf)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return ctx.IndRefForNewObject(*sd)
}

func contents(ctx *model.Context, pageDict types.Dict) (types.Array, error) {
	obj, ok := pageDict.Find("Contents")
	if !ok || obj == nil {
		return nil, nil
	}
	if arr, ok := obj.(types.Array); ok {
		return arr, nil
	}
	ref, ok := obj.(types.IndirectRef)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected /Contents %T", ErrInvalidPDF, obj)
	}
	target, err := ctx.Dereference(ref)
	if err != nil {
		return nil, err
	}
	if arr, ok := target.(types.Array); ok {
		return arr, nil
	}
	return types.Array{ref}, nil
}

// pageResources returns the page's own resource dictionary, giving the page a
// private copy of its inherited resources first if it has none.
func pageResources(ctx *model.Context, pageDict types.Dict) (types.Dict, error) {
	if obj, ok := pageDict.Find("Resources"); ok {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	res := types.NewDict()
	if obj, ok := inherited(ctx, pageDict, "Resources"); ok {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return nil, err
		}
		if d != nil {
			res = d.Clone().(types.Dict)
		}
	}
	pageDict.Update("Resources", res)
	return res, nil
}

func addResource(ctx *model.Context, res types.Dict, category, name string, entry types.Dict) error {
	var sub types.Dict
	if obj, ok := res.Find(category); ok {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return err
		}
		sub = d
	}
	if sub == nil {
		sub = types.NewDict()
		res.Update(category, sub)
	}
	sub.Update(name, entry)
	return nil
}

// inherited looks key up on d and then on its ancestors in the page tree.
func inherited(ctx *model.Context, d types.Dict, key string) (types.Object, bool) {
	for i := 0; d != nil && i < maxTreeDepth; i++ {
		if obj, ok := d.Find(key); ok && obj != nil {
			return obj, true
		}
		parent, ok := d.Find("Parent")
		if !ok {
			return nil, false
		}
		next, err := ctx.DereferenceDict(parent)
		if err != nil {
			return nil, false
		}
		d = next
	}
	return nil, false
}

func mediaBox(ctx *model.Context, pageDict types.Dict) Box {
	obj, ok := inherited(ctx, pageDict, "MediaBox")
	if !ok {
		return Letter
	}
	arr, err := ctx.DereferenceArray(obj)
	if err != nil || len(arr) != 4 {
		return Letter
	}
	var v [4]float64
	for i, o := range arr {
		n, ok := number(ctx, o)
		if !ok {
			return Letter
		}
		v[i] = n
	}
	b := Box{LLX: min(v[0], v[2]), LLY: min(v[1], v[3]), URX: max(v[0], v[2]), URY: max(v[1], v[3])}
	if !valid(b) {
		return Letter
	}
	return b
}

func number(ctx *model.Context, o types.Object) (float64, bool) {
	o, err := ctx.Dereference(o)
	if err != nil {
		return 0, false
	}
	switch n := o.(type) {
	case types.Integer:
		return float64(n), true
	case types.Float:
		return float64(n), true
	}
	return 0, false
}
