package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pdfmark/pkg/logger"
	"pdfmark/store"
)

const (
	// Server -> client
	DocumentType           = "DOCUMENT"            // Current document snapshot
	PreviewType            = "PREVIEW"             // In-progress shape, null when the gesture ends
	CommentPendingType     = "COMMENT_PENDING"     // Comment placed, waiting for its text
	AnnotationAddedType    = "ANNOTATION_ADDED"    // Record committed to the store
	AnnotationUpdatedType  = "ANNOTATION_UPDATED"  // Record patched
	AnnotationDeletedType  = "ANNOTATION_DELETED"  // Record removed
	AnnotationsClearedType = "ANNOTATIONS_CLEARED" // Every record removed
	PresenceUpdateType     = "PRESENCE_UPDATE"     // A client joined or left
	SelectionType          = "SELECTION"           // Selected annotation changed, empty id when cleared
	ErrorType              = "ERROR"

	// Client -> server
	ToolType          = "TOOL"
	ColorType         = "COLOR"
	PageType          = "PAGE"
	PointerDownType   = "POINTER_DOWN"
	PointerMoveType   = "POINTER_MOVE"
	PointerUpType     = "POINTER_UP"
	PointerLeaveType  = "POINTER_LEAVE"
	CommentSubmitType = "COMMENT_SUBMIT"
	CommentCancelType = "COMMENT_CANCEL"
	SelectType        = "SELECT"
)

type WSMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	ClientID  string          `json:"client_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// to restricts delivery to one client of the room.
	to *Client
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	ClientID string    `json:"client_id"`
	LastSeen time.Time `json:"last_seen"`
}

type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	store      *store.Store
	mu         sync.Mutex
	Presence   map[string]map[string]UserStatus // sessionID -> clientID -> status
}

func NewHub(s *store.Store) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		store:      s,
		Presence:   make(map[string]map[string]UserStatus),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			// The store is only touched outside h.mu; the reaper calls back
			// into the hub while holding the store lock.
			sess := h.store.Touch(client.SessionID)

			h.mu.Lock()
			if h.Rooms[client.SessionID] == nil {
				h.Rooms[client.SessionID] = make(map[*Client]bool)
				h.Presence[client.SessionID] = make(map[string]UserStatus)
			}
			h.Rooms[client.SessionID][client] = true
			h.Presence[client.SessionID][client.ID] = UserStatus{UserID: client.UserID, ClientID: client.ID, LastSeen: time.Now()}
			h.mu.Unlock()

			// The joining client gets the current document before anything else.
			client.Send <- encode(WSMessage{
				Type:      DocumentType,
				SessionID: client.SessionID,
				UserID:    client.UserID,
				ClientID:  client.ID,
				Payload:   mustJSON(sess.Document),
			})
			if sess.Selected != "" {
				client.Send <- encode(WSMessage{
					Type:      SelectionType,
					SessionID: client.SessionID,
					UserID:    client.UserID,
					ClientID:  client.ID,
					Payload:   mustJSON(SelectPayload{ID: sess.Selected}),
				})
			}
			h.broadcastPresenceUpdate(client.SessionID)

		case client := <-h.Unregister:
			h.mu.Lock()
			sessionID := client.SessionID
			roomLeft := false
			if _, ok := h.Rooms[sessionID][client]; ok {
				delete(h.Rooms[sessionID], client)
				delete(h.Presence[sessionID], client.ID)
				close(client.Send)

				if len(h.Rooms[sessionID]) == 0 {
					delete(h.Rooms, sessionID)
					delete(h.Presence, sessionID)
					logger.Sugar.Infof("Closed empty room: %s", sessionID)
				} else {
					roomLeft = true
				}
			}
			h.mu.Unlock()

			if roomLeft {
				h.broadcastPresenceUpdate(sessionID)
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.SessionID]))
			for client := range h.Rooms[msg.SessionID] {
				if msg.to == nil || client == msg.to {
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					// Closing the socket ends readPump, which unregisters the client.
					logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", client.ID)
					client.Conn.Close()
				}
			}
		}
	}
}

// Publish fans msg out to every client in its session room.
func (h *Hub) Publish(msg WSMessage) {
	h.Broadcast <- msg
}

// Notify publishes v as the payload of a typ message to the session room.
func (h *Hub) Notify(sessionID, userID, typ string, v any) {
	h.Publish(WSMessage{Type: typ, SessionID: sessionID, UserID: userID, Payload: mustJSON(v)})
}

// PublishDocument tells every client of the session about a new document.
func (h *Hub) PublishDocument(sessionID, userID string, doc *store.Document) {
	h.Notify(sessionID, userID, DocumentType, doc)
}

// HasClients reports whether any socket is attached to the session.
func (h *Hub) HasClients(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[sessionID]) > 0
}

// SessionReaper drops sessions that have been idle for ttl and have no
// connected clients. It returns when ctx is done.
func (h *Hub) SessionReaper(ctx context.Context, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap(ttl)
		}
	}
}

func (h *Hub) reap(ttl time.Duration) []string {
	evicted := h.store.EvictIdle(ttl, h.HasClients)
	if len(evicted) > 0 {
		logger.Sugar.Infof("Reaped idle sessions %v, %d still open", evicted, h.store.Len())
	}
	return evicted
}

// RemoveSession disconnects every client of a closed session.
func (h *Hub) RemoveSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.Presence, sessionID)
	if clients, ok := h.Rooms[sessionID]; ok {
		for client := range clients {
			client.Conn.Close() // readPump exits and unregisters
		}
	}
}

func (h *Hub) broadcastPresenceUpdate(sessionID string) {
	var userStatuses []UserStatus
	var clientsToSend []*Client

	h.mu.Lock()
	if _, ok := h.Presence[sessionID]; ok {
		userStatuses = make([]UserStatus, 0, len(h.Presence[sessionID]))
		for _, status := range h.Presence[sessionID] {
			userStatuses = append(userStatuses, status)
		}

		clientsToSend = make([]*Client, 0, len(h.Rooms[sessionID]))
		for client := range h.Rooms[sessionID] {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	broadcastPayload := encode(WSMessage{Type: PresenceUpdateType, SessionID: sessionID, Payload: mustJSON(userStatuses)})
	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.ID)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling payload: %v", err)
		return json.RawMessage("null")
	}
	return b
}

func encode(msg WSMessage) []byte {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling message: %v", err)
	}
	return b
}
