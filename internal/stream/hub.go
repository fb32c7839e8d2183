// Package stream раздает живой статус сессий подписчикам по websocket
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vibration-monitor/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64

	// maxFinished сколько завершенных сессий помнит хаб
	maxFinished = 1024
)

type client struct {
	conn *websocket.Conn
	send chan models.Event
}

// Hub подписчики по сессиям
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*client]struct{}
	finished      map[string]struct{}
	finishedOrder []string
	upgrader      websocket.Upgrader
	log      *logrus.Entry
}

// NewHub создает пустой хаб
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		clients:  make(map[string]map[*client]struct{}),
		finished: make(map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "stream"),
	}
}

// Name реализует контракт потребителя событий
func (h *Hub) Name() string { return "websocket" }

// Consume рассылает событие подписчикам сессии. Медленный подписчик
// теряет событие. После итога сессии соединения закрываются.
func (h *Hub) Consume(_ context.Context, e models.Event) error {
	if e.Kind == models.EventSamples {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[e.SessionID]
	for c := range subs {
		select {
		case c.send <- e:
		default:
			h.log.WithField("session", e.SessionID).Debug("slow subscriber, event dropped")
		}
	}
	if e.Kind == models.EventSummary {
		for c := range subs {
			close(c.send)
		}
		delete(h.clients, e.SessionID)
		h.markFinished(e.SessionID)
	}
	return nil
}

func (h *Hub) markFinished(sessionID string) {
	if _, ok := h.finished[sessionID]; ok {
		return
	}
	h.finished[sessionID] = struct{}{}
	h.finishedOrder = append(h.finishedOrder, sessionID)
	if len(h.finishedOrder) > maxFinished {
		delete(h.finished, h.finishedOrder[0])
		h.finishedOrder = h.finishedOrder[1:]
	}
}

// Clients число подписчиков сессии
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// ServeSession переводит запрос в websocket и подписывает его на сессию.
// initial, если задан, отправляется сразу после подключения. Если итог
// сессии уже разослан, соединение закрывается после initial.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string, initial *models.LiveStatus) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan models.Event, sendBuffer)}
	if initial != nil {
		c.send <- models.Event{Kind: models.EventWindow, SessionID: sessionID, Status: initial}
	}
	if !h.register(sessionID, c) {
		close(c.send)
		h.writeLoop(c)
		return
	}
	h.log.WithField("session", sessionID).Debug("subscriber connected")

	go h.writeLoop(c)
	h.readLoop(c)
	h.unregister(sessionID, c)
}

func (h *Hub) register(sessionID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.finished[sessionID]; ok {
		return false
	}
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*client]struct{})
	}
	h.clients[sessionID][c] = struct{}{}
	return true
}

func (h *Hub) unregister(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[c]; ok {
		delete(subs, c)
		close(c.send)
	}
	if len(subs) == 0 {
		delete(h.clients, sessionID)
	}
}

// readLoop читает управляющие кадры до закрытия соединения
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
