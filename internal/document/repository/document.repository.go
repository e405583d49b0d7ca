package repository

import (
	"database/sql"

	"pdfmark/internal/document/model"
	"pdfmark/pkg/logger"
)

// DocumentRepository is the export ledger. Documents themselves are never stored.
type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

// RecordExport inserts rec and fills in its generated id and timestamp.
func (r *DocumentRepository) RecordExport(rec *model.ExportRecord) error {
	err := r.DB.QueryRow(`
		INSERT INTO exports (session_id, user_id, document_name, page_count, annotation_count, byte_size, archive_uri, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`,
		rec.SessionID, rec.UserID, rec.DocumentName, rec.PageCount, rec.AnnotationCount, rec.ByteSize, rec.ArchiveURI,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to record export for session %s: %v", rec.SessionID, err)
	}
	return err
}

// GetExports lists a session's exports, newest first.
func (r *DocumentRepository) GetExports(sessionID string) ([]model.ExportRecord, error) {
	rows, err := r.DB.Query(`
		SELECT id, session_id, user_id, document_name, page_count, annotation_count, byte_size, archive_uri, created_at
		FROM exports WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get exports for session %s: %v", sessionID, err)
		return nil, err
	}
	defer rows.Close()

	records := []model.ExportRecord{}
	for rows.Next() {
		var e model.ExportRecord
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.DocumentName, &e.PageCount, &e.AnnotationCount, &e.ByteSize, &e.ArchiveURI, &e.CreatedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan export row: %v", err)
			continue
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

// SetArchiveURI records where an export was archived.
func (r *DocumentRepository) SetArchiveURI(id, uri string) error {
	_, err := r.DB.Exec(`UPDATE exports SET archive_uri = $1 WHERE id = $2`, uri, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to set archive URI for export %s: %v", id, err)
	}
	return err
}
