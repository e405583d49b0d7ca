package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pdfmark/internal/annotation"
	"pdfmark/internal/document/repository"
	"pdfmark/internal/export"
	"pdfmark/internal/pdftest"
	"pdfmark/pkg/logger"
	"pdfmark/socket"
	"pdfmark/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeArchive struct {
	objects map[string][]byte
	err     error
}

func (f *fakeArchive) Save(_ context.Context, object string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[object] = data
	return "gs://test/" + object, nil
}

func newService(t *testing.T) *DocumentService {
	t.Helper()
	s := store.New()
	hub := socket.NewHub(s)
	go hub.Run()
	return NewDocumentService(s, hub, nil, nil)
}

func highlight(page int) annotation.Annotation {
	return annotation.Annotation{Type: annotation.Highlight, PageNumber: page,
		Position: annotation.Position{X: 10, Y: 10, Width: 100, Height: 20}}
}

func TestUpload(t *testing.T) {
	svc := newService(t)
	doc, err := svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(2, 595, 842))
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, store.PageSize{Width: 595, Height: 842}, doc.Pages[1])
	assert.Equal(t, "/api/documents/file?sessionId=tab", doc.URL)
	assert.NotEmpty(t, doc.ID)

	_, err = svc.Upload("tab", "user1", "b.txt", []byte("hello"))
	assert.ErrorIs(t, err, export.ErrInvalidPDF)

	_, err = svc.Upload("tab", "user1", "c.pdf", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	// A failed upload leaves the previous document in place.
	current, err := svc.GetDocument("tab")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", current.Name)
}

func TestAnnotationLifecycle(t *testing.T) {
	svc := newService(t)
	_, err := svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)

	a, err := svc.AddAnnotation("tab", "user1", highlight(1))
	require.NoError(t, err)

	_, err = svc.AddAnnotation("tab", "user1", highlight(2))
	assert.ErrorIs(t, err, annotation.ErrInvalidPage)

	text := "important"
	updated, err := svc.UpdateAnnotation("tab", "user1", a.ID, annotation.Patch{Text: &text})
	require.NoError(t, err)
	assert.Equal(t, "important", updated.Text)

	require.NoError(t, svc.DeleteAnnotation("tab", "user1", a.ID))
	assert.ErrorIs(t, svc.DeleteAnnotation("tab", "user1", a.ID), store.ErrAnnotationNotFound)

	_, err = svc.AddAnnotation("tab", "user1", highlight(1))
	require.NoError(t, err)
	require.NoError(t, svc.ClearAnnotations("tab", "user1"))
	list, err := svc.ListAnnotations("tab", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOverlay(t *testing.T) {
	svc := newService(t)
	_, err := svc.Overlay("tab", 1, 800)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)
	_, err = svc.AddAnnotation("tab", "user1", highlight(1))
	require.NoError(t, err)

	png, err := svc.Overlay("tab", 1, 800)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	_, err = svc.Overlay("tab", 2, 800)
	assert.ErrorIs(t, err, annotation.ErrInvalidPage)
}

func TestExportRecordsAndArchives(t *testing.T) {
	svc := newService(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc.Repo = repository.NewDocumentRepository(db)
	arch := &fakeArchive{}
	svc.Archive = arch

	_, err = svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(2, 612, 792))
	require.NoError(t, err)
	_, err = svc.AddAnnotation("tab", "user1", highlight(2))
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO exports").
		WithArgs("tab", "user1", "annotated-a.pdf", 2, 1, sqlmock.AnyArg(), "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("e1", time.Now()))
	mock.ExpectExec("UPDATE exports SET archive_uri").
		WithArgs("gs://test/exports/tab/e1-annotated-a.pdf", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := svc.Export(context.Background(), "tab", "user1")
	require.NoError(t, err)
	assert.Equal(t, "annotated-a.pdf", res.FileName)
	assert.Equal(t, []byte("%PDF"), res.Data[:4])
	assert.Equal(t, "e1", res.Record.ID)
	assert.Equal(t, "gs://test/exports/tab/e1-annotated-a.pdf", res.Record.ArchiveURI)
	assert.Contains(t, arch.objects, "exports/tab/e1-annotated-a.pdf")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// observeLogs routes the global logger into memory for the rest of the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prevLog, prevSugar := logger.Log, logger.Sugar
	logger.Log = zap.New(core)
	logger.Sugar = logger.Log.Sugar()
	t.Cleanup(func() { logger.Log, logger.Sugar = prevLog, prevSugar })
	return logs
}

func TestExportSkipsArchiveURIWithoutLedgerRow(t *testing.T) {
	svc := newService(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc.Repo = repository.NewDocumentRepository(db)
	arch := &fakeArchive{}
	svc.Archive = arch

	_, err = svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)
	logs := observeLogs(t)

	mock.ExpectQuery("INSERT INTO exports").WillReturnError(errors.New("connection reset"))

	res, err := svc.Export(context.Background(), "tab", "user1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Record.ArchiveURI, "the file is still archived")
	assert.Len(t, arch.objects, 1)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 1, logs.FilterMessageSnippet("Export ledger write failed").Len())
	assert.Zero(t, logs.FilterMessageSnippet("archive URI").Len(), "no update is attempted without a row")
	assert.Zero(t, logs.FilterMessageSnippet("archive update failed").Len())
}

func TestExportLogsArchiveURIFailure(t *testing.T) {
	svc := newService(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc.Repo = repository.NewDocumentRepository(db)
	svc.Archive = &fakeArchive{}

	_, err = svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)
	logs := observeLogs(t)

	mock.ExpectQuery("INSERT INTO exports").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("e2", time.Now()))
	mock.ExpectExec("UPDATE exports SET archive_uri").
		WithArgs("gs://test/exports/tab/e2-annotated-a.pdf", "e2").
		WillReturnError(errors.New("deadlock detected"))

	res, err := svc.Export(context.Background(), "tab", "user1")
	require.NoError(t, err)
	assert.Equal(t, "gs://test/exports/tab/e2-annotated-a.pdf", res.Record.ArchiveURI)
	assert.NoError(t, mock.ExpectationsWereMet())

	failed := logs.FilterMessageSnippet("Export ledger archive update failed for export e2 in session tab")
	require.Equal(t, 1, failed.Len())
	assert.Equal(t, zapcore.ErrorLevel, failed.All()[0].Level)
}

func TestExportSurvivesArchiveFailure(t *testing.T) {
	svc := newService(t)
	svc.Archive = &fakeArchive{err: errors.New("bucket gone")}

	_, err := svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)

	res, err := svc.Export(context.Background(), "tab", "user1")
	require.NoError(t, err)
	assert.Empty(t, res.Record.ArchiveURI)
	assert.Equal(t, pdftest.Minimal(1, 612, 792), res.Data, "nothing to draw returns the original")
}

func TestExportsNeedLedger(t *testing.T) {
	svc := newService(t)
	_, err := svc.Exports("tab")
	assert.ErrorIs(t, err, ErrNoLedger)
}

func TestCloseSession(t *testing.T) {
	svc := newService(t)
	_, err := svc.Upload("tab", "user1", "a.pdf", pdftest.Minimal(1, 612, 792))
	require.NoError(t, err)
	require.NoError(t, svc.CloseSession("tab"))
	_, err = svc.GetDocument("tab")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.ErrorIs(t, svc.CloseSession("tab"), store.ErrSessionNotFound)
}
