package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/4xmen/goftar/internal/engine"
	"github.com/4xmen/goftar/internal/presence"
)

type stubEngine struct {
	mu         sync.Mutex
	onlineHits []int
	joinHits   [][2]int
	readHits   [][2]int
	outsiders  map[int]bool
}

func (s *stubEngine) VerifyMembership(ctx context.Context, userID, conversationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outsiders[userID] {
		return engine.ErrNotParticipant
	}
	return nil
}

func (s *stubEngine) HandleUserOnline(ctx context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineHits = append(s.onlineHits, userID)
	return nil
}

func (s *stubEngine) HandleRoomJoined(ctx context.Context, userID, conversationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinHits = append(s.joinHits, [2]int{userID, conversationID})
	return nil
}

func (s *stubEngine) MarkConversationRead(ctx context.Context, readerID, conversationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readHits = append(s.readHits, [2]int{readerID, conversationID})
	return nil
}

func newTestHub() (*Hub, *stubEngine, *presence.Registry) {
	registry := presence.NewRegistry(nil, nil)
	hub := NewHub(registry)
	eng := &stubEngine{}
	hub.SetEngine(eng)
	go hub.Run()
	time.Sleep(10 * time.Millisecond)
	return hub, eng, registry
}

func newTestClient(hub *Hub, userID int, connID string) *Client {
	return &Client{
		userID: userID,
		connID: connID,
		hub:    hub,
		send:   make(chan *engine.Event, 256),
		rooms:  make(map[int]struct{}),
	}
}

func drain(c *Client) []*engine.Event {
	var events []*engine.Event
	for {
		select {
		case e := <-c.send:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestHubCreation(t *testing.T) {
	registry := presence.NewRegistry(nil, nil)
	hub := NewHub(registry)
	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil || hub.byUser == nil || hub.rooms == nil {
		t.Error("Hub maps not initialized")
	}
	if hub.register == nil || hub.unregister == nil {
		t.Error("Hub channels not initialized")
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	hub, eng, registry := newTestHub()

	client := newTestClient(hub, 1, "conn-a")
	hub.register <- client
	time.Sleep(20 * time.Millisecond)

	hub.mu.RLock()
	_, registered := hub.clients[client]
	hub.mu.RUnlock()
	if !registered {
		t.Error("Client was not registered")
	}
	if !registry.IsOnline(1) {
		t.Error("Registry does not see the user online")
	}

	eng.mu.Lock()
	onlineHits := len(eng.onlineHits)
	eng.mu.Unlock()
	if onlineHits != 1 {
		t.Errorf("Online catch-up ran %d times, want 1", onlineHits)
	}

	hub.unregister <- client
	time.Sleep(20 * time.Millisecond)

	hub.mu.RLock()
	_, registered = hub.clients[client]
	hub.mu.RUnlock()
	if registered {
		t.Error("Client was not unregistered")
	}
	if registry.IsOnline(1) {
		t.Error("Registry still sees the user online")
	}
}

func TestSecondDeviceDoesNotRerunCatchup(t *testing.T) {
	hub, eng, _ := newTestHub()

	first := newTestClient(hub, 1, "conn-a")
	second := newTestClient(hub, 1, "conn-b")
	hub.register <- first
	hub.register <- second
	time.Sleep(20 * time.Millisecond)

	eng.mu.Lock()
	onlineHits := len(eng.onlineHits)
	eng.mu.Unlock()
	if onlineHits != 1 {
		t.Errorf("Online catch-up ran %d times for one user, want 1", onlineHits)
	}
}

func TestNewClientReceivesOnlineSet(t *testing.T) {
	hub, _, _ := newTestHub()

	other := newTestClient(hub, 1, "conn-a")
	hub.register <- other
	time.Sleep(20 * time.Millisecond)

	client := newTestClient(hub, 2, "conn-b")
	hub.register <- client
	time.Sleep(20 * time.Millisecond)

	events := drain(client)
	if len(events) == 0 {
		t.Fatal("New client received nothing")
	}
	if events[0].Type != engine.EventPresenceOnlineSet {
		t.Fatalf("First event is %q, want the online set", events[0].Type)
	}
	found := false
	for _, id := range events[0].OnlineUserIDs {
		if id == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("Online set %v does not include the earlier user", events[0].OnlineUserIDs)
	}
}

func TestPresenceBroadcasts(t *testing.T) {
	hub, _, _ := newTestHub()

	watcher := newTestClient(hub, 1, "conn-a")
	hub.register <- watcher
	time.Sleep(20 * time.Millisecond)
	drain(watcher)

	joiner := newTestClient(hub, 2, "conn-b")
	hub.register <- joiner
	time.Sleep(20 * time.Millisecond)

	events := drain(watcher)
	foundOnline := false
	for _, e := range events {
		if e.Type == engine.EventPresenceStatusChanged && e.UserID == 2 && e.Online {
			foundOnline = true
		}
	}
	if !foundOnline {
		t.Error("Watcher never heard the other user come online")
	}

	hub.unregister <- joiner
	time.Sleep(20 * time.Millisecond)

	events = drain(watcher)
	foundOffline := false
	for _, e := range events {
		if e.Type == engine.EventPresenceStatusChanged && e.UserID == 2 && !e.Online {
			foundOffline = true
			if e.LastSeen == nil {
				t.Error("Offline event carries no last-seen time")
			}
		}
	}
	if !foundOffline {
		t.Error("Watcher never heard the other user go offline")
	}
}

func TestRoomFanout(t *testing.T) {
	hub, eng, registry := newTestHub()

	inRoom := newTestClient(hub, 1, "conn-a")
	outside := newTestClient(hub, 2, "conn-b")
	hub.register <- inRoom
	hub.register <- outside
	time.Sleep(20 * time.Millisecond)

	hub.joinRoom(inRoom, 7)
	time.Sleep(20 * time.Millisecond)
	if !registry.IsViewing(1, 7) {
		t.Error("Registry does not see the viewer")
	}
	eng.mu.Lock()
	joins := len(eng.joinHits)
	eng.mu.Unlock()
	if joins != 1 {
		t.Errorf("Room reconcile ran %d times, want 1", joins)
	}

	drain(inRoom)
	drain(outside)

	hub.ToRoom(7, &engine.Event{Type: engine.EventMessageCreated, ConversationID: 7})

	if events := drain(inRoom); len(events) != 1 {
		t.Errorf("Room member got %d events, want 1", len(events))
	}
	if events := drain(outside); len(events) != 0 {
		t.Errorf("Outsider got %d room events, want 0", len(events))
	}

	hub.leaveRoom(inRoom, 7)
	if registry.IsViewing(1, 7) {
		t.Error("Registry still sees the viewer after leave")
	}
	hub.ToRoom(7, &engine.Event{Type: engine.EventMessageCreated, ConversationID: 7})
	if events := drain(inRoom); len(events) != 0 {
		t.Errorf("Left member still got %d room events", len(events))
	}
}

func TestJoinRoomRequiresMembership(t *testing.T) {
	hub, eng, registry := newTestHub()
	eng.mu.Lock()
	eng.outsiders = map[int]bool{2: true}
	eng.mu.Unlock()

	member := newTestClient(hub, 1, "conn-a")
	outsider := newTestClient(hub, 2, "conn-b")
	hub.register <- member
	hub.register <- outsider
	time.Sleep(20 * time.Millisecond)

	hub.joinRoom(member, 7)
	hub.joinRoom(outsider, 7)
	time.Sleep(20 * time.Millisecond)

	if registry.IsViewing(2, 7) {
		t.Error("Registry sees the rejected user as viewing")
	}
	hub.mu.RLock()
	_, inRoom := hub.rooms[7][outsider]
	hub.mu.RUnlock()
	if inRoom {
		t.Error("Rejected user is in the hub room")
	}

	eng.mu.Lock()
	joins := append([][2]int(nil), eng.joinHits...)
	eng.mu.Unlock()
	for _, hit := range joins {
		if hit[0] == 2 {
			t.Error("Room reconcile ran for the rejected user")
		}
	}

	drain(member)
	drain(outsider)
	hub.ToRoom(7, &engine.Event{Type: engine.EventMessageCreated, ConversationID: 7})

	if events := drain(member); len(events) != 1 {
		t.Errorf("Member got %d room events, want 1", len(events))
	}
	if events := drain(outsider); len(events) != 0 {
		t.Errorf("Rejected user got %d room events, want 0", len(events))
	}
}

func TestToUserReachesAllDevices(t *testing.T) {
	hub, _, _ := newTestHub()

	phone := newTestClient(hub, 1, "conn-a")
	laptop := newTestClient(hub, 1, "conn-b")
	hub.register <- phone
	hub.register <- laptop
	time.Sleep(20 * time.Millisecond)
	drain(phone)
	drain(laptop)

	hub.ToUser(1, &engine.Event{Type: engine.EventSummaryChanged})

	if events := drain(phone); len(events) != 1 {
		t.Errorf("Phone got %d events, want 1", len(events))
	}
	if events := drain(laptop); len(events) != 1 {
		t.Errorf("Laptop got %d events, want 1", len(events))
	}
}

func TestUnregisterCleansRooms(t *testing.T) {
	hub, _, registry := newTestHub()

	client := newTestClient(hub, 1, "conn-a")
	hub.register <- client
	time.Sleep(20 * time.Millisecond)
	hub.joinRoom(client, 7)

	hub.unregister <- client
	time.Sleep(20 * time.Millisecond)

	hub.mu.RLock()
	_, roomAlive := hub.rooms[7]
	hub.mu.RUnlock()
	if roomAlive {
		t.Error("Room map still holds the disconnected client")
	}
	if registry.IsViewing(1, 7) {
		t.Error("Registry still sees the disconnected viewer")
	}
}

func TestWebSocketIntegration(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub, eng, registry := newTestHub()

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", 1)
		hub.HandleWebSocket(c)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if !registry.IsOnline(1) {
		t.Error("Dialed user is not online in the registry")
	}

	// The first frame is the online set.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event engine.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read first frame: %v", err)
	}
	if event.Type != engine.EventPresenceOnlineSet {
		t.Errorf("First frame type = %q, want the online set", event.Type)
	}

	// Client events flow through to the engine.
	if err := conn.WriteJSON(map[string]interface{}{"type": "join_room", "conversation_id": 7}); err != nil {
		t.Fatalf("Failed to send join_room: %v", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{"type": "mark_read", "conversation_id": 7}); err != nil {
		t.Fatalf("Failed to send mark_read: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.joinHits) != 1 || eng.joinHits[0] != [2]int{1, 7} {
		t.Errorf("joinHits = %v, want [[1 7]]", eng.joinHits)
	}
	if len(eng.readHits) != 1 || eng.readHits[0] != [2]int{1, 7} {
		t.Errorf("readHits = %v, want [[1 7]]", eng.readHits)
	}
}
