package handler

import (
	"bytes"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdfmark/internal/annotation"
	"pdfmark/internal/document/model"
	"pdfmark/internal/document/service"
	"pdfmark/internal/pdftest"
	"pdfmark/socket"
	"pdfmark/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) *DocumentHandler {
	t.Helper()
	s := store.New()
	hub := socket.NewHub(s)
	go hub.Run()
	return NewDocumentHandler(service.NewDocumentService(s, hub, nil, nil), 1<<20)
}

func uploadRequest(t *testing.T, target, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func upload(t *testing.T, h *DocumentHandler, pages int) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload?sessionId=tab", "a.pdf", pdftest.Minimal(pages, 612, 792)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestUploadHandler(t *testing.T) {
	h := newHandler(t)

	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload?sessionId=tab", "a.pdf", pdftest.Minimal(2, 612, 792)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp model.DocumentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "tab", resp.SessionID)
	assert.Equal(t, 2, resp.Document.PageCount)
	assert.Equal(t, "a.pdf", resp.Document.Name)

	rec = httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload?sessionId=tab", "notes.txt", []byte("hi")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload?sessionId=tab", "fake.pdf", []byte("not really")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload", "a.pdf", pdftest.Minimal(1, 612, 792)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodGet, "/api/documents/upload?sessionId=tab", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	h := newHandler(t)
	h.MaxUploadBytes = 64

	rec := httptest.NewRecorder()
	h.Upload(rec, uploadRequest(t, "/api/documents/upload?sessionId=tab", "a.pdf", pdftest.Minimal(1, 612, 792)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDocumentsHandler(t *testing.T) {
	h := newHandler(t)

	rec := httptest.NewRecorder()
	h.Documents(rec, httptest.NewRequest(http.MethodGet, "/api/documents?sessionId=tab", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	upload(t, h, 1)

	rec = httptest.NewRecorder()
	h.Documents(rec, httptest.NewRequest(http.MethodGet, "/api/documents?sessionId=tab", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "%PDF", "raw bytes are served from /file only")

	rec = httptest.NewRecorder()
	h.File(rec, httptest.NewRequest(http.MethodGet, "/api/documents/file?sessionId=tab", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = httptest.NewRecorder()
	h.Documents(rec, httptest.NewRequest(http.MethodDelete, "/api/documents?sessionId=tab", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Documents(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnnotationHandlers(t *testing.T) {
	h := newHandler(t)
	upload(t, h, 2)

	body := `{"session_id":"tab","annotation":{"type":"underline","color":"#00f","pageNumber":2,"position":{"x":10,"y":20,"width":30,"height":0}}}`
	rec := httptest.NewRecorder()
	h.AddAnnotation(rec, httptest.NewRequest(http.MethodPost, "/api/annotations/add", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a annotation.Annotation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
	assert.Equal(t, "#0000ff", a.Color)

	bad := `{"session_id":"tab","annotation":{"type":"underline","pageNumber":7}}`
	rec = httptest.NewRecorder()
	h.AddAnnotation(rec, httptest.NewRequest(http.MethodPost, "/api/annotations/add", strings.NewReader(bad)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	blank := `{"session_id":"tab","annotation":{"type":"comment","pageNumber":1,"comment":"  ","position":{"x":10,"y":20,"width":20,"height":20}}}`
	rec = httptest.NewRecorder()
	h.AddAnnotation(rec, httptest.NewRequest(http.MethodPost, "/api/annotations/add", strings.NewReader(blank)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "comment text is empty")

	rec = httptest.NewRecorder()
	h.UpdateAnnotation(rec, httptest.NewRequest(http.MethodPut, "/api/annotations/update?sessionId=tab&id="+a.ID, strings.NewReader(`{"comment":"x","pageNumber":1}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.GetAnnotations(rec, httptest.NewRequest(http.MethodGet, "/api/annotations?sessionId=tab&page=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.AnnotationsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Annotations, 1)
	assert.Equal(t, 1, list.Annotations[0].PageNumber)

	rec = httptest.NewRecorder()
	h.DeleteAnnotation(rec, httptest.NewRequest(http.MethodDelete, "/api/annotations/delete?sessionId=tab&id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.DeleteAnnotation(rec, httptest.NewRequest(http.MethodDelete, "/api/annotations/delete?sessionId=tab&id="+a.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ClearAnnotations(rec, httptest.NewRequest(http.MethodDelete, "/api/annotations/clear?sessionId=tab", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOverlayAndExportHandlers(t *testing.T) {
	h := newHandler(t)
	upload(t, h, 1)

	rec := httptest.NewRecorder()
	h.Overlay(rec, httptest.NewRequest(http.MethodGet, "/api/documents/overlay?sessionId=tab&page=1&width=400", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.Overlay(rec, httptest.NewRequest(http.MethodGet, "/api/documents/overlay?sessionId=tab&page=1&width=99999", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Overlay(rec, httptest.NewRequest(http.MethodGet, "/api/documents/overlay?sessionId=tab&page=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodGet, "/api/documents/export?sessionId=tab", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "annotated-a.pdf", params["filename"])
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = httptest.NewRecorder()
	h.GetExports(rec, httptest.NewRequest(http.MethodGet, "/api/exports?sessionId=tab", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFileHandlerEncodesNonASCIIName(t *testing.T) {
	h := newHandler(t)
	h.Service.Store.SetDocument("tab", &store.Document{
		ID:        "doc",
		Name:      "überblick 2026.pdf",
		PageCount: 1,
		Pages:     []store.PageSize{{Width: 612, Height: 792}},
		Data:      pdftest.Minimal(1, 612, 792),
	})

	rec := httptest.NewRecorder()
	h.File(rec, httptest.NewRequest(http.MethodGet, "/api/documents/file?sessionId=tab", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	header := rec.Header().Get("Content-Disposition")
	assert.NotContains(t, header, `\u`)
	assert.Contains(t, header, "filename*=utf-8''")
	disposition, params, err := mime.ParseMediaType(header)
	require.NoError(t, err)
	assert.Equal(t, "inline", disposition)
	assert.Equal(t, "überblick 2026.pdf", params["filename"])
}
