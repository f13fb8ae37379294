// Package notifier реализует широковещательный канал уведомлений поверх WebSocket.
package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// TopicOrders — топик событий заказов. Подписка на топик заменяет глобальную
// рассылку всем подключённым клиентам: события получают только подписчики.
const TopicOrders = "orders"

// Имена событий сервер → клиент.
const (
	EventOrderCreated        = "orderCreated"
	EventNotificationRead    = "notificationRead"
	EventNotificationDeleted = "notificationDeleted"
	EventError               = "error"
)

// Действия клиент → сервер.
const (
	actionMarkRead = "markNotificationAsRead"
	actionDelete   = "deleteNotification"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBufferSize = 16
)

// Store описывает операции над уведомлениями, доступные клиентам канала.
type Store interface {
	MarkNotificationRead(ctx context.Context, id int64) (*model.Notification, error)
	DeleteNotification(ctx context.Context, id int64) error
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type clientMessage struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	topic string
}

// Hub хранит множество подписчиков по топикам и рассылает им события.
// Медленный подписчик отключается и не блокирует остальных.
type Hub struct {
	store    Store
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub создаёт новый Hub.
func NewHub(store Store, logger *zap.Logger) *Hub {
	return &Hub{
		store:  store,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Авторизация выполняется middleware до апгрейда.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP выполняет апгрейд соединения и подписывает клиента на топик
// из параметра запроса (по умолчанию — topic заказов).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = TopicOrders
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", zap.Error(err))
		return
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		topic: topic,
	}

	h.register(c)
	h.logger.Info("client connected", zap.String("topic", topic))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.topic] == nil {
		h.clients[c.topic] = make(map[*client]struct{})
	}
	h.clients[c.topic][c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clients[c.topic]; ok {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			close(c.send)
		}
	}
}

// Broadcast рассылает событие всем подписчикам топика. Доставка best-effort:
// подписчик с переполненным буфером отключается.
func (h *Hub) Broadcast(topic, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	msg, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[topic] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber", zap.String("topic", topic))
		h.unregister(c)
		c.conn.Close()
	}

	return nil
}

// Subscribers возвращает число подписчиков топика.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("client disconnected", zap.String("topic", c.topic))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(c, "malformed message")
			continue
		}

		h.handleAction(c, msg)
	}
}

func (h *Hub) handleAction(c *client, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Action {
	case actionMarkRead:
		updated, err := h.store.MarkNotificationRead(ctx, msg.ID)
		if err != nil {
			h.logger.Error("mark notification as read error", zap.Int64("id", msg.ID), zap.Error(err))
			h.sendError(c, "notification not found")
			return
		}
		if err := h.Broadcast(c.topic, EventNotificationRead, updated); err != nil {
			h.logger.Error("broadcast error", zap.Error(err))
		}
	case actionDelete:
		if err := h.store.DeleteNotification(ctx, msg.ID); err != nil {
			h.logger.Error("delete notification error", zap.Int64("id", msg.ID), zap.Error(err))
			h.sendError(c, "notification not found")
			return
		}
		h.logger.Info("notification deleted", zap.Int64("id", msg.ID))
		if err := h.Broadcast(c.topic, EventNotificationDeleted, map[string]int64{"_id": msg.ID}); err != nil {
			h.logger.Error("broadcast error", zap.Error(err))
		}
	default:
		h.sendError(c, "unknown action")
	}
}

func (h *Hub) sendError(c *client, message string) {
	raw, _ := json.Marshal(message)
	msg, err := json.Marshal(envelope{Event: EventError, Data: raw})
	if err != nil {
		return
	}

	// Отправка под RLock: unregister закрывает send под полной блокировкой,
	// поэтому у зарегистрированного клиента канал здесь гарантированно открыт.
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c.topic][c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}
