package model

import (
	"time"

	"pdfmark/internal/annotation"
	"pdfmark/store"
)

type DocumentResponse struct {
	SessionID string          `json:"session_id"`
	Document  *store.Document `json:"document"`
}

type AddAnnotationRequest struct {
	SessionID  string                `json:"session_id"`
	Annotation annotation.Annotation `json:"annotation"`
}

type AnnotationsResponse struct {
	SessionID   string                  `json:"session_id"`
	Annotations []annotation.Annotation `json:"annotations"`
}

// ExportRecord is one row of the export ledger.
type ExportRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	DocumentName    string    `json:"document_name"`
	PageCount       int       `json:"page_count"`
	AnnotationCount int       `json:"annotation_count"`
	ByteSize        int64     `json:"byte_size"`
	ArchiveURI      string    `json:"archive_uri,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExportResult is an annotated file ready for download.
type ExportResult struct {
	FileName string
	Data     []byte
	Record   ExportRecord
}
