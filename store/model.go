package store

import (
	"time"

	"pdfmark/internal/annotation"
)

// PageSize is a page's MediaBox size in PDF points.
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Document is the uploaded file plus everything drawn on it.
type Document struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	URL         string                  `json:"url"`
	PageCount   int                     `json:"pageCount"`
	Pages       []PageSize              `json:"pages"`
	Annotations []annotation.Annotation `json:"annotations"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
	Data        []byte                  `json:"-"`
}

// Session is one browser tab's workspace.
type Session struct {
	ID       string          `json:"id"`
	Document *Document       `json:"document,omitempty"`
	Tool     annotation.Type `json:"tool,omitempty"`
	Color    string          `json:"color,omitempty"`
	Selected string          `json:"selected,omitempty"`
	LastSeen time.Time       `json:"lastSeen"`
}

func (d *Document) clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Pages = append([]PageSize(nil), d.Pages...)
	out.Annotations = make([]annotation.Annotation, len(d.Annotations))
	for i, a := range d.Annotations {
		out.Annotations[i] = a.Clone()
	}
	return &out
}

func (d *Document) index(id string) int {
	for i, a := range d.Annotations {
		if a.ID == id {
			return i
		}
	}
	return -1
}
