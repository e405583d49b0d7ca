package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pdfmark/internal/annotation"
	"pdfmark/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are restricted by the CORS layer in front of the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	SessionID string
	UserID    string
	ID        string
	Send      chan []byte
	capture   *annotation.Capture
}

type ToolPayload struct {
	Tool annotation.Type `json:"tool"`
}

type ColorPayload struct {
	Color string `json:"color"`
}

type PagePayload struct {
	Page int `json:"page"`
}

// PointerPayload is one pointer sample. Without a viewport x and y are
// already page-local reference coordinates.
type PointerPayload struct {
	X        float64              `json:"x"`
	Y        float64              `json:"y"`
	Viewport *annotation.Viewport `json:"viewport,omitempty"`
}

type CommentPayload struct {
	Text string `json:"text"`
}

// Preview is the in-progress shape of a gesture. It has no id until committed.
type Preview struct {
	Type            annotation.Type     `json:"type"`
	Color           string              `json:"color"`
	Position        annotation.Position `json:"position"`
	PageNumber      int                 `json:"pageNumber"`
	SignaturePoints []annotation.Point  `json:"signaturePoints,omitempty"`
}

type PreviewPayload struct {
	ClientID   string   `json:"client_id"`
	Annotation *Preview `json:"annotation"`
}

type SelectPayload struct {
	ID string `json:"id"`
}

type DeletedPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:       hub,
		Conn:      conn,
		SessionID: sessionID,
		UserID:    userID,
		ID:        uuid.NewString(),
		Send:      make(chan []byte, 256),
		capture:   annotation.NewCapture(),
	}

	// A new tab picks up the toolbar state of its session.
	sess := hub.store.Touch(sessionID)
	if sess.Tool != "" {
		_ = client.capture.SetTool(sess.Tool)
	}
	if sess.Color != "" {
		_ = client.capture.SetColor(sess.Color)
	}

	client.Hub.Register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		// Server-authoritative fields.
		msg.SessionID = c.SessionID
		msg.UserID = c.UserID
		msg.ClientID = c.ID

		if err := c.handle(msg); err != nil {
			logger.Sugar.Debugf("Client %s: %s rejected: %v", c.ID, msg.Type, err)
			c.reply(ErrorType, ErrorPayload{Message: err.Error()})
		}
	}
}

func (c *Client) handle(msg WSMessage) error {
	switch msg.Type {
	case ToolType:
		var p ToolPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		wasDrawing := c.capture.Drawing()
		if err := c.capture.SetTool(p.Tool); err != nil {
			return err
		}
		if wasDrawing && !c.capture.Drawing() {
			c.clearPreview()
		}
		return c.Hub.store.SetTool(c.SessionID, p.Tool)

	case ColorType:
		var p ColorPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := c.capture.SetColor(p.Color); err != nil {
			return err
		}
		return c.Hub.store.SetColor(c.SessionID, p.Color)

	case PageType:
		var p PagePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if doc, err := c.Hub.store.Document(c.SessionID); err == nil && p.Page > doc.PageCount {
			return fmt.Errorf("%w: page %d of %d", annotation.ErrInvalidPage, p.Page, doc.PageCount)
		}
		return c.capture.SetPage(p.Page)

	case PointerDownType:
		pt, err := pointer(msg.Payload)
		if err != nil {
			return err
		}
		doc, err := c.Hub.store.Document(c.SessionID)
		if err != nil {
			return err
		}
		// The document may have been replaced by one with fewer pages.
		if page := c.capture.Page(); page > doc.PageCount {
			return fmt.Errorf("%w: page %d of %d", annotation.ErrInvalidPage, page, doc.PageCount)
		}
		return c.capture.Press(pt)

	case PointerMoveType:
		pt, err := pointer(msg.Payload)
		if err != nil {
			return err
		}
		if a, ok := c.capture.Move(pt); ok {
			preview := Preview{
				Type:            a.Type,
				Color:           a.Color,
				Position:        a.Position,
				PageNumber:      a.PageNumber,
				SignaturePoints: a.SignaturePoints,
			}
			c.Hub.Publish(WSMessage{
				Type:      PreviewType,
				SessionID: c.SessionID,
				UserID:    c.UserID,
				ClientID:  c.ID,
				Payload:   mustJSON(PreviewPayload{ClientID: c.ID, Annotation: &preview}),
			})
		}
		return nil

	case PointerUpType, PointerLeaveType:
		if !c.capture.Drawing() {
			return nil
		}
		pt, err := pointer(msg.Payload)
		if err != nil {
			return err
		}
		a, ok := c.capture.Release(pt)
		c.clearPreview()
		if ok {
			return c.commit(a)
		}
		if pending, ok := c.capture.Pending(); ok {
			c.reply(CommentPendingType, pending)
		}
		return nil

	case CommentSubmitType:
		var p CommentPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		a, err := c.capture.SubmitComment(p.Text)
		if err != nil {
			return err
		}
		return c.commit(a)

	case CommentCancelType:
		c.capture.CancelComment()
		return nil

	case SelectType:
		var p SelectPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := c.Hub.store.Select(c.SessionID, p.ID); err != nil {
			return err
		}
		c.Hub.Publish(WSMessage{
			Type:      SelectionType,
			SessionID: c.SessionID,
			UserID:    c.UserID,
			ClientID:  c.ID,
			Payload:   mustJSON(SelectPayload{ID: p.ID}),
		})
		return nil
	}
	logger.Sugar.Warnf("Client %s sent unknown message type %q", c.ID, msg.Type)
	return nil
}

func (c *Client) commit(a annotation.Annotation) error {
	stored, err := c.Hub.store.AddAnnotation(c.SessionID, a)
	if err != nil {
		return err
	}
	c.Hub.Publish(WSMessage{
		Type:      AnnotationAddedType,
		SessionID: c.SessionID,
		UserID:    c.UserID,
		ClientID:  c.ID,
		Payload:   mustJSON(stored),
	})
	return nil
}

// clearPreview tells the room, sender included, that the gesture's preview is gone.
func (c *Client) clearPreview() {
	c.Hub.Publish(WSMessage{
		Type:      PreviewType,
		SessionID: c.SessionID,
		UserID:    c.UserID,
		ClientID:  c.ID,
		Payload:   mustJSON(PreviewPayload{ClientID: c.ID}),
	})
}

// reply sends a message to this client only. It goes through the hub so it
// stays ordered after anything published before it.
func (c *Client) reply(typ string, v any) {
	c.Hub.Publish(WSMessage{
		Type:      typ,
		SessionID: c.SessionID,
		UserID:    c.UserID,
		ClientID:  c.ID,
		Payload:   mustJSON(v),
		to:        c,
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var errEmptyPayload = errors.New("missing payload")

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errEmptyPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func pointer(raw json.RawMessage) (annotation.Point, error) {
	var p PointerPayload
	if err := decode(raw, &p); err != nil {
		return annotation.Point{}, err
	}
	pt := annotation.Point{X: p.X, Y: p.Y}
	if p.Viewport != nil {
		pt = p.Viewport.ToPage(pt)
	}
	return pt, nil
}
