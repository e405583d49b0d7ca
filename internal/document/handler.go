package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"pdfmark/internal/annotation"
	"pdfmark/internal/document/model"
	"pdfmark/internal/document/service"
	"pdfmark/internal/export"
	"pdfmark/internal/render"
	"pdfmark/middleware"
	"pdfmark/pkg/logger"
	"pdfmark/store"
)

const defaultOverlayWidth = 800

type DocumentHandler struct {
	Service        *service.DocumentService
	MaxUploadBytes int64
}

func NewDocumentHandler(service *service.DocumentService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{Service: service, MaxUploadBytes: maxUploadBytes}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.MaxUploadBytes > 0 {
		if r.ContentLength > h.MaxUploadBytes {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isPDF(header.Filename, header.Header.Get("Content-Type")) {
		http.Error(w, "Only PDF files are accepted", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to read upload for session %s: %v", sessionID, err)
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	doc, err := h.Service.Upload(sessionID, userID(r), filepath.Base(header.Filename), data)
	if err != nil {
		writeError(w, err, "Failed to load document")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(model.DocumentResponse{SessionID: sessionID, Document: doc})
}

// Documents serves GET (metadata and annotations) and DELETE (close session).
func (h *DocumentHandler) Documents(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := h.Service.GetDocument(sessionID)
		if err != nil {
			writeError(w, err, "Failed to get document")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.DocumentResponse{SessionID: sessionID, Document: doc})

	case http.MethodDelete:
		if err := h.Service.CloseSession(sessionID); err != nil {
			writeError(w, err, "Failed to close session")
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Session closed"))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DocumentHandler) File(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	doc, err := h.Service.GetDocument(sessionID)
	if err != nil {
		writeError(w, err, "Failed to get document")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.Name}))
	w.Write(doc.Data)
}

func (h *DocumentHandler) Overlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	page, err := intParam(r, "page", 1)
	if err != nil {
		http.Error(w, "Invalid page parameter", http.StatusBadRequest)
		return
	}
	width, err := intParam(r, "width", defaultOverlayWidth)
	if err != nil {
		http.Error(w, "Invalid width parameter", http.StatusBadRequest)
		return
	}

	png, err := h.Service.Overlay(sessionID, page, width)
	if err != nil {
		writeError(w, err, "Failed to render overlay")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *DocumentHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	res, err := h.Service.Export(r.Context(), sessionID, userID(r))
	if err != nil {
		writeError(w, err, "Failed to export document")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Write(res.Data)
}

func (h *DocumentHandler) GetAnnotations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}
	page, err := intParam(r, "page", 0)
	if err != nil || page < 0 {
		http.Error(w, "Invalid page parameter", http.StatusBadRequest)
		return
	}

	anns, err := h.Service.ListAnnotations(sessionID, page)
	if err != nil {
		writeError(w, err, "Failed to list annotations")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.AnnotationsResponse{SessionID: sessionID, Annotations: anns})
}

func (h *DocumentHandler) AddAnnotation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.AddAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.URL.Query().Get("sessionId")
	}
	if req.SessionID == "" {
		http.Error(w, "Missing session_id", http.StatusBadRequest)
		return
	}

	a, err := h.Service.AddAnnotation(req.SessionID, userID(r), req.Annotation)
	if err != nil {
		writeError(w, err, "Failed to add annotation")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

func (h *DocumentHandler) UpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	var patch annotation.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.Service.UpdateAnnotation(sessionID, userID(r), id, patch)
	if err != nil {
		writeError(w, err, "Failed to update annotation")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

func (h *DocumentHandler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	if err := h.Service.DeleteAnnotation(sessionID, userID(r), id); err != nil {
		writeError(w, err, "Failed to delete annotation")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Annotation deleted"))
}

func (h *DocumentHandler) ClearAnnotations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.Service.ClearAnnotations(sessionID, userID(r)); err != nil {
		writeError(w, err, "Failed to clear annotations")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Annotations cleared"))
}

func (h *DocumentHandler) GetExports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID, ok := requireSession(w, r)
	if !ok {
		return
	}

	records, err := h.Service.Exports(sessionID)
	if err != nil {
		writeError(w, err, "Failed to list exports")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return "", false
	}
	return sessionID, true
}

func userID(r *http.Request) string {
	if id, ok := r.Context().Value(middleware.UserIDKey).(string); ok && id != "" {
		return id
	}
	return middleware.AnonymousUser
}

func intParam(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func isPDF(name, contentType string) bool {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return true
	}
	return strings.HasPrefix(contentType, "application/pdf")
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrNoDocument),
		errors.Is(err, store.ErrAnnotationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, annotation.ErrInvalidType),
		errors.Is(err, annotation.ErrInvalidColor),
		errors.Is(err, annotation.ErrInvalidPosition),
		errors.Is(err, annotation.ErrInvalidPage),
		errors.Is(err, annotation.ErrMissingPoints),
		errors.Is(err, annotation.ErrEmptyComment),
		errors.Is(err, export.ErrInvalidPDF),
		errors.Is(err, render.ErrBadSize),
		errors.Is(err, service.ErrEmptyFile):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNoLedger):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Sugar.Errorf("Handler: %s: %v", msg, err)
	} else {
		logger.Sugar.Debugf("Handler: %s: %v", msg, err)
	}
	http.Error(w, msg+": "+err.Error(), status)
}
