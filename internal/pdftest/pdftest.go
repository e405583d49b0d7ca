// Package pdftest builds small valid PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
)

// Minimal returns a PDF with the given number of blank pages of size w x h
// points. The first page carries its own resource dictionary, the rest inherit
// one from the page tree, and every page has a one-operator content stream.
func Minimal(pages int, w, h float64) []byte {
	if pages < 1 {
		pages = 1
	}
	var objs []string
	// 1: catalog, 2: pages, then a page and a content stream per page.
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := new(bytes.Buffer)
	for i := 0; i < pages; i++ {
		fmt.Fprintf(kids, "%d 0 R ", 3+2*i)
	}
	objs = append(objs, fmt.Sprintf(
		"<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %g %g] /Resources << /ProcSet [/PDF] >> >>",
		bytes.TrimSpace(kids.Bytes()), pages, w, h))

	for i := 0; i < pages; i++ {
		contents := 4 + 2*i
		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Contents %d 0 R", contents)
		if i == 0 {
			page += " /Resources << /ProcSet [/PDF /Text] >>"
		}
		page += " >>"
		stream := "0 g"
		objs = append(objs, page)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
