package notifier

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ndmitriev/storefront-system/internal/model"
	"github.com/ndmitriev/storefront-system/internal/repository"
)

type stubStore struct {
	notification *model.Notification
	deletedID    int64
}

func (s *stubStore) MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error) {
	if s.notification == nil || s.notification.ID != id {
		return nil, repository.ErrNotificationNotFound
	}
	s.notification.IsRead = true
	return s.notification, nil
}

func (s *stubStore) DeleteNotification(ctx context.Context, id int64) error {
	if s.notification == nil || s.notification.ID != id {
		return repository.ErrNotificationNotFound
	}
	s.deletedID = id
	return nil
}

func dialHub(t *testing.T, ts *httptest.Server, topic string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func waitSubscribers(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(topic) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscribers(%s) = %d, want %d", topic, hub.Subscribers(topic), want)
}

func TestHub_BroadcastScopedToTopic(t *testing.T) {
	hub := NewHub(&stubStore{}, zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	orders := dialHub(t, ts, TopicOrders)
	other := dialHub(t, ts, "inventory")

	waitSubscribers(t, hub, TopicOrders, 1)
	waitSubscribers(t, hub, "inventory", 1)

	notification := model.Notification{ID: 1, Username: "bob", Type: model.NotificationTypeOrder}
	if err := hub.Broadcast(TopicOrders, EventOrderCreated, notification); err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}

	env := readEnvelope(t, orders)
	if env.Event != EventOrderCreated {
		t.Fatalf("event = %q, want %q", env.Event, EventOrderCreated)
	}

	var got model.Notification
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if got.Username != "bob" {
		t.Fatalf("username = %q, want bob", got.Username)
	}

	// Подписчик другого топика события не получает.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatalf("subscriber of another topic received the event")
	}
}

func TestHub_MarkReadAction(t *testing.T) {
	store := &stubStore{notification: &model.Notification{ID: 5, Username: "bob"}}
	hub := NewHub(store, zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts, TopicOrders)
	waitSubscribers(t, hub, TopicOrders, 1)

	msg, _ := json.Marshal(map[string]any{"action": "markNotificationAsRead", "id": 5})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Event != EventNotificationRead {
		t.Fatalf("event = %q, want %q", env.Event, EventNotificationRead)
	}

	var got model.Notification
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	if !got.IsRead {
		t.Fatalf("notification is not marked as read: %+v", got)
	}
}

func TestHub_DeleteAction(t *testing.T) {
	store := &stubStore{notification: &model.Notification{ID: 9}}
	hub := NewHub(store, zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts, TopicOrders)
	waitSubscribers(t, hub, TopicOrders, 1)

	msg, _ := json.Marshal(map[string]any{"action": "deleteNotification", "id": 9})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Event != EventNotificationDeleted {
		t.Fatalf("event = %q, want %q", env.Event, EventNotificationDeleted)
	}
	if store.deletedID != 9 {
		t.Fatalf("deleted id = %d, want 9", store.deletedID)
	}
}

func TestHub_UnknownAction(t *testing.T) {
	hub := NewHub(&stubStore{}, zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts, TopicOrders)
	waitSubscribers(t, hub, TopicOrders, 1)

	msg, _ := json.Marshal(map[string]any{"action": "explode", "id": 1})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Event != EventError {
		t.Fatalf("event = %q, want %q", env.Event, EventError)
	}
}

func TestHub_DisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub(&stubStore{}, zap.NewNop())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts, TopicOrders)
	waitSubscribers(t, hub, TopicOrders, 1)

	conn.Close()
	waitSubscribers(t, hub, TopicOrders, 0)
}

// Клиент мог быть отключён рассылкой как медленный, пока его readPump ещё
// обрабатывает входящее сообщение: sendError не должен писать в закрытый канал.
func TestHub_SendErrorToDroppedClient(t *testing.T) {
	hub := NewHub(&stubStore{}, zap.NewNop())

	c := &client{send: make(chan []byte, 1), topic: TopicOrders}
	hub.register(c)
	hub.unregister(c)

	hub.sendError(c, "late error")
}

func TestHub_SendErrorToRegisteredClient(t *testing.T) {
	hub := NewHub(&stubStore{}, zap.NewNop())

	c := &client{send: make(chan []byte, 1), topic: TopicOrders}
	hub.register(c)

	hub.sendError(c, "boom")

	select {
	case raw := <-c.send:
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Event != EventError {
			t.Fatalf("event = %q, want %q", env.Event, EventError)
		}
	default:
		t.Fatalf("error message was not delivered")
	}
}
