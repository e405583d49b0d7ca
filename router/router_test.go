package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pdfmark/config"
	"pdfmark/socket"
	"pdfmark/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	st := store.New()
	hub := socket.NewHub(st)
	go hub.Run()
	srv := httptest.NewServer(Setup(cfg, st, hub, nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoutes(t *testing.T) {
	srv := newServer(t, config.Config{AllowedOrigin: "*", MaxUploadMB: 1})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/api/documents?sessionId=none")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/exports?sessionId=none")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoutesRequireTokenWhenSecretSet(t *testing.T) {
	srv := newServer(t, config.Config{JWTSecret: "s3cret", MaxUploadMB: 1})

	resp, err := http.Get(srv.URL + "/api/annotations?sessionId=tab")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketThroughMiddleware(t *testing.T) {
	srv := newServer(t, config.Config{MaxUploadMB: 1})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?sessionId=tab", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg socket.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, socket.DocumentType, msg.Type)
	assert.Equal(t, "anonymous", msg.UserID)
}
