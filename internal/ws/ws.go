package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/4xmen/goftar/internal/engine"
	"github.com/4xmen/goftar/internal/presence"
	"github.com/4xmen/goftar/pkg/i18n"
)

// DeliveryEngine is the slice of the engine the hub calls back into on
// presence transitions and client events.
type DeliveryEngine interface {
	VerifyMembership(ctx context.Context, userID, conversationID int) error
	HandleUserOnline(ctx context.Context, userID int) error
	HandleRoomJoined(ctx context.Context, userID, conversationID int) error
	MarkConversationRead(ctx context.Context, readerID, conversationID int) error
}

type Hub struct {
	clients    map[*Client]struct{}
	byUser     map[int]map[*Client]struct{}
	rooms      map[int]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	registry   *presence.Registry
	engine     DeliveryEngine
	mu         sync.RWMutex
}

type Client struct {
	userID int
	connID string
	conn   *websocket.Conn
	hub    *Hub
	send   chan *engine.Event
	rooms  map[int]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin
		return true
	},
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[int]map[*Client]struct{}),
		rooms:      make(map[int]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
	}
}

// SetEngine wires the callback target. Must happen before Run; the hub and
// the engine need each other, so one side is attached late.
func (h *Hub) SetEngine(e DeliveryEngine) {
	h.engine = e
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	set, ok := h.byUser[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[client.userID] = set
	}
	set[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	wentOnline := h.registry.Connect(client.userID, client.connID)
	log.Printf("User %d connected (total: %d)", client.userID, total)

	// The new client gets the current online set first, so its roster is
	// complete before incremental updates arrive.
	client.deliver(&engine.Event{
		Type:          engine.EventPresenceOnlineSet,
		OnlineUserIDs: h.registry.OnlineUsers(),
	})

	if wentOnline {
		h.broadcast(&engine.Event{
			Type:   engine.EventPresenceStatusChanged,
			UserID: client.userID,
			Online: true,
		})
		// Catch-up work hits the database, keep it off the hub loop.
		go func(userID int) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.engine.HandleUserOnline(ctx, userID); err != nil {
				log.Printf("online catch-up failed for user %d: %v", userID, err)
			}
		}(client.userID)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	if set := h.byUser[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	for convID := range client.rooms {
		if room := h.rooms[convID]; room != nil {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	for convID := range client.rooms {
		h.registry.LeaveRoom(client.userID, convID)
	}
	userID, wentOffline := h.registry.Disconnect(client.connID)
	log.Printf("User %d disconnected (total: %d)", client.userID, total)

	if wentOffline {
		now := time.Now().UTC()
		h.broadcast(&engine.Event{
			Type:     engine.EventPresenceStatusChanged,
			UserID:   userID,
			Online:   false,
			LastSeen: &now,
		})
	}
}

// ToRoom sends the event to every client currently viewing the conversation.
func (h *Hub) ToRoom(conversationID int, event *engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[conversationID] {
		client.deliver(event)
	}
}

// ToUser sends the event to all of the user's connections.
func (h *Hub) ToUser(userID int, event *engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		client.deliver(event)
	}
}

func (h *Hub) ToUsers(userIDs []int, event *engine.Event) {
	for _, id := range userIDs {
		h.ToUser(id, event)
	}
}

func (h *Hub) broadcast(event *engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.deliver(event)
	}
}

func (h *Hub) joinRoom(client *Client, conversationID int) {
	// Membership gates room fan-out. The check runs on the client's read
	// goroutine, before the hub or the registry learn about the view.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.engine.VerifyMembership(ctx, client.userID, conversationID); err != nil {
		log.Printf("join_room rejected for user %d conv %d: %v", client.userID, conversationID, err)
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[client] = struct{}{}
	client.rooms[conversationID] = struct{}{}
	h.mu.Unlock()

	h.registry.JoinRoom(client.userID, conversationID)

	go func(userID, convID int) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.engine.HandleRoomJoined(ctx, userID, convID); err != nil {
			log.Printf("room join reconcile failed for user %d conv %d: %v", userID, convID, err)
		}
	}(client.userID, conversationID)
}

func (h *Hub) leaveRoom(client *Client, conversationID int) {
	h.mu.Lock()
	if room := h.rooms[conversationID]; room != nil {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(client.rooms, conversationID)
	h.mu.Unlock()

	h.registry.LeaveRoom(client.userID, conversationID)
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("unauthorized")})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}

	client := &Client{
		userID: userID.(int),
		connID: uuid.NewString(),
		conn:   conn,
		hub:    h,
		send:   make(chan *engine.Event, 256),
		rooms:  make(map[int]struct{}),
	}

	h.register <- client

	go client.readPump()
	go client.writePump()
}

// deliver enqueues without blocking; a full channel drops the event rather
// than stalling the hub.
func (c *Client) deliver(event *engine.Event) {
	select {
	case c.send <- event:
	default:
		log.Printf("Event channel full for user %d, dropping %s", c.userID, event.Type)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var event map[string]interface{}
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}

		eventType, ok := event["type"].(string)
		if !ok {
			continue
		}

		switch eventType {
		case "join_room":
			if convID, ok := event["conversation_id"].(float64); ok {
				c.hub.joinRoom(c, int(convID))
			}
		case "leave_room":
			if convID, ok := event["conversation_id"].(float64); ok {
				c.hub.leaveRoom(c, int(convID))
			}
		case "mark_read":
			if convID, ok := event["conversation_id"].(float64); ok {
				c.handleMarkRead(int(convID))
			}
		}
	}
}

func (c *Client) handleMarkRead(conversationID int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.hub.engine.MarkConversationRead(ctx, c.userID, conversationID); err != nil {
			log.Printf("mark read failed for user %d conv %d: %v", c.userID, conversationID, err)
		}
	}()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, _ := json.Marshal(event)
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
