// Package notify implements a dashboard-facing listener hook: payment
// state transitions and circuit-breaker state changes are broadcast
// to every connected WebSocket client. Only the Hub/Client broadcast
// machinery lives here; the orchestration core has no frontend routes
// of its own.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plm/payment-orchestrator/breaker"
	"github.com/plm/payment-orchestrator/domain"
)

// MessageType tags the payload shape carried by Message.Data.
type MessageType string

const (
	MsgTypePaymentEvent   MessageType = "PAYMENT_EVENT"
	MsgTypeCircuitBreaker MessageType = "CIRCUIT_BREAKER"
)

// Message is the wire envelope pushed to every connected dashboard client.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PaymentEventMessage reports a Payment's event-sourced transition.
type PaymentEventMessage struct {
	PaymentID   string `json:"paymentId"`
	EventType   string `json:"eventType"`
	State       string `json:"state"`
	GatewayType string `json:"gatewayType,omitempty"`
}

// CircuitBreakerMessage reports a gateway circuit breaker's state change.
type CircuitBreakerMessage struct {
	Gateway   string `json:"gateway"`
	State     string `json:"state"`
	PrevState string `json:"prevState,omitempty"`
}

// upgrader configures the WebSocket upgrade for dashboard clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub manages connected dashboard clients and fans broadcasts out to
// all of them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// Client is one connected dashboard WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *Message
}

// NewHub constructs an empty Hub. Callers must run Hub.Run in a
// goroutine before any client can register.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drives the hub's register/unregister/broadcast loop until done
// is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes msg to every connected client. A client whose send
// buffer is full is disconnected (removed, its send channel closed)
// rather than blocking the hub loop.
func (h *Hub) Broadcast(msg *Message) {
	msg.Timestamp = time.Now().UnixMilli()
	h.broadcast <- msg
}

// BroadcastPaymentEvent satisfies hooks.EventListener, wiring the
// event-sourced transition stream straight into the dashboard.
func (h *Hub) BroadcastPaymentEvent(p domain.Payment, eventType domain.EventType) {
	h.Broadcast(&Message{
		Type: MsgTypePaymentEvent,
		Data: PaymentEventMessage{
			PaymentID:   p.ID,
			EventType:   string(eventType),
			State:       string(p.State),
			GatewayType: p.GatewayType,
		},
	})
}

// BroadcastCircuitBreaker reports a gateway circuit breaker's state change.
func (h *Hub) BroadcastCircuitBreaker(gatewayName string, state, prevState breaker.State) {
	h.Broadcast(&Message{
		Type: MsgTypeCircuitBreaker,
		Data: CircuitBreakerMessage{
			Gateway:   gatewayName,
			State:     state.String(),
			PrevState: prevState.String(),
		},
	})
}

// ClientCount reports how many dashboard clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a dashboard WebSocket connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan *Message, 64)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("notify: failed to marshal message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("notify: websocket error: %v", err)
			}
			break
		}
	}
}
