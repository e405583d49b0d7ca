package service

import (
	"context"
	"errors"
	"fmt"

	"pdfmark/internal/annotation"
	"pdfmark/internal/archive"
	"pdfmark/internal/document/model"
	"pdfmark/internal/document/repository"
	"pdfmark/internal/export"
	"pdfmark/internal/render"
	"pdfmark/pkg/logger"
	"pdfmark/socket"
	"pdfmark/store"

	"github.com/google/uuid"
)

var (
	ErrNoLedger  = errors.New("export ledger is not configured")
	ErrEmptyFile = errors.New("uploaded file is empty")
)

type DocumentService struct {
	Store   *store.Store
	Hub     *socket.Hub
	Repo    *repository.DocumentRepository // nil without a database
	Archive archive.Archiver               // nil without a bucket
}

func NewDocumentService(s *store.Store, hub *socket.Hub, repo *repository.DocumentRepository, arch archive.Archiver) *DocumentService {
	return &DocumentService{Store: s, Hub: hub, Repo: repo, Archive: arch}
}

// Upload validates data as a PDF and makes it the session's document,
// discarding whatever was loaded before.
func (s *DocumentService) Upload(sessionID, userID, name string, data []byte) (*store.Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	info, err := export.Inspect(data)
	if err != nil {
		return nil, err
	}

	pages := make([]store.PageSize, len(info.Pages))
	for i, b := range info.Pages {
		pages[i] = store.PageSize{Width: b.Width(), Height: b.Height()}
	}
	doc := s.Store.SetDocument(sessionID, &store.Document{
		ID:        uuid.NewString(),
		Name:      name,
		URL:       "/api/documents/file?sessionId=" + sessionID,
		PageCount: info.PageCount,
		Pages:     pages,
		Data:      data,
	})
	logger.Sugar.Infof("Loaded %s (%d pages) into session %s", name, info.PageCount, sessionID)

	s.Hub.PublishDocument(sessionID, userID, doc)
	return doc, nil
}

func (s *DocumentService) GetDocument(sessionID string) (*store.Document, error) {
	return s.Store.Document(sessionID)
}

// CloseSession drops the session's document and disconnects its sockets.
func (s *DocumentService) CloseSession(sessionID string) error {
	if err := s.Store.CloseSession(sessionID); err != nil {
		return err
	}
	s.Hub.RemoveSession(sessionID)
	return nil
}

func (s *DocumentService) ListAnnotations(sessionID string, page int) ([]annotation.Annotation, error) {
	return s.Store.Annotations(sessionID, page)
}

func (s *DocumentService) AddAnnotation(sessionID, userID string, a annotation.Annotation) (annotation.Annotation, error) {
	stored, err := s.Store.AddAnnotation(sessionID, a)
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.Hub.Notify(sessionID, userID, socket.AnnotationAddedType, stored)
	return stored, nil
}

func (s *DocumentService) UpdateAnnotation(sessionID, userID, id string, patch annotation.Patch) (annotation.Annotation, error) {
	updated, err := s.Store.UpdateAnnotation(sessionID, id, patch)
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.Hub.Notify(sessionID, userID, socket.AnnotationUpdatedType, updated)
	return updated, nil
}

func (s *DocumentService) DeleteAnnotation(sessionID, userID, id string) error {
	if err := s.Store.DeleteAnnotation(sessionID, id); err != nil {
		return err
	}
	s.Hub.Notify(sessionID, userID, socket.AnnotationDeletedType, socket.DeletedPayload{ID: id})
	return nil
}

func (s *DocumentService) ClearAnnotations(sessionID, userID string) error {
	if err := s.Store.ClearAnnotations(sessionID); err != nil {
		return err
	}
	s.Hub.Notify(sessionID, userID, socket.AnnotationsClearedType, nil)
	return nil
}

// Overlay renders the annotations of one page as a transparent PNG.
func (s *DocumentService) Overlay(sessionID string, page, width int) ([]byte, error) {
	doc, err := s.Store.Document(sessionID)
	if err != nil {
		return nil, err
	}
	if page < 1 || page > len(doc.Pages) {
		return nil, fmt.Errorf("%w: page %d of %d", annotation.ErrInvalidPage, page, doc.PageCount)
	}
	anns, err := s.Store.Annotations(sessionID, page)
	if err != nil {
		return nil, err
	}
	size := doc.Pages[page-1]
	return render.RenderPage(anns, width, size.Width, size.Height)
}

// Export bakes the session's annotations into its document. The export is
// recorded in the ledger and archived when those are configured; failures
// there are logged and do not fail the download.
func (s *DocumentService) Export(ctx context.Context, sessionID, userID string) (*model.ExportResult, error) {
	doc, err := s.Store.Document(sessionID)
	if err != nil {
		return nil, err
	}
	res, err := export.Export(ctx, doc.Data, doc.Annotations)
	if err != nil {
		return nil, err
	}

	out := &model.ExportResult{
		FileName: "annotated-" + doc.Name,
		Data:     res.Data,
		Record: model.ExportRecord{
			ID:              uuid.NewString(),
			SessionID:       sessionID,
			UserID:          userID,
			DocumentName:    "annotated-" + doc.Name,
			PageCount:       doc.PageCount,
			AnnotationCount: res.Annotations,
			ByteSize:        int64(len(res.Data)),
		},
	}
	logger.Sugar.Infof("Exported %s: %d annotations on %d pages, %d skipped", out.FileName, res.Annotations, res.Pages, res.Skipped)

	recorded := false
	if s.Repo != nil {
		if err := s.Repo.RecordExport(&out.Record); err != nil {
			logger.Sugar.Errorf("Export ledger write failed for session %s: %v", sessionID, err)
		} else {
			recorded = true
		}
	}
	if s.Archive != nil {
		object := archive.ObjectName(sessionID, out.Record.ID, out.FileName)
		uri, err := s.Archive.Save(ctx, object, res.Data)
		if err != nil {
			logger.Sugar.Errorf("Archiving %s failed: %v", object, err)
			return out, nil
		}
		out.Record.ArchiveURI = uri
		// Without a ledger row there is nothing to attach the URI to.
		if recorded {
			if err := s.Repo.SetArchiveURI(out.Record.ID, uri); err != nil {
				logger.Sugar.Errorf("Export ledger archive update failed for export %s in session %s: %v", out.Record.ID, sessionID, err)
			}
		}
	}
	return out, nil
}

func (s *DocumentService) Exports(sessionID string) ([]model.ExportRecord, error) {
	if s.Repo == nil {
		return nil, ErrNoLedger
	}
	return s.Repo.GetExports(sessionID)
}
