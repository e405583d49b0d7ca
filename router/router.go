package router

import (
	"database/sql"
	"net/http"

	"pdfmark/config"
	"pdfmark/internal/archive"
	document "pdfmark/internal/document"
	"pdfmark/internal/document/repository"
	"pdfmark/internal/document/service"
	"pdfmark/middleware"
	"pdfmark/socket"
	"pdfmark/store"
)

// Setup wires the REST API and the WebSocket endpoint. db and arch may be nil.
func Setup(cfg config.Config, st *store.Store, hub *socket.Hub, db *sql.DB, arch archive.Archiver) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(cfg.JWTSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	var docRepo *repository.DocumentRepository
	if db != nil {
		docRepo = repository.NewDocumentRepository(db)
	}
	docService := service.NewDocumentService(st, hub, docRepo, arch)
	docHandler := document.NewDocumentHandler(docService, cfg.MaxUploadMB<<20)

	mux.Handle("/api/documents/upload", auth(http.HandlerFunc(docHandler.Upload)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(docHandler.Documents)))
	mux.Handle("/api/documents/file", auth(http.HandlerFunc(docHandler.File)))
	mux.Handle("/api/documents/overlay", auth(http.HandlerFunc(docHandler.Overlay)))
	mux.Handle("/api/documents/export", auth(http.HandlerFunc(docHandler.Export)))
	mux.Handle("/api/annotations", auth(http.HandlerFunc(docHandler.GetAnnotations)))
	mux.Handle("/api/annotations/add", auth(http.HandlerFunc(docHandler.AddAnnotation)))
	mux.Handle("/api/annotations/update", auth(http.HandlerFunc(docHandler.UpdateAnnotation)))
	mux.Handle("/api/annotations/delete", auth(http.HandlerFunc(docHandler.DeleteAnnotation)))
	mux.Handle("/api/annotations/clear", auth(http.HandlerFunc(docHandler.ClearAnnotations)))
	mux.Handle("/api/exports", auth(http.HandlerFunc(docHandler.GetExports)))
	mux.HandleFunc("/healthz", document.Health)

	return middleware.LoggingMiddleware(middleware.CORSMiddleware(cfg.AllowedOrigin)(mux))
}
