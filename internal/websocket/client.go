package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"lumina-be/pkg/facilitation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20 // audio fragments
	sendBufferSize = 256
)

var (
	ErrClientClosed   = errors.New("client connection closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Frame is one outbound websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// MessageHandler receives every inbound frame of a client, on its read goroutine.
type MessageHandler func(c *Client, messageType int, data []byte)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID       string
	Category Category
	Hub      *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Facilitation session, group clients only
	Session *facilitation.Session

	onMessage MessageHandler

	mu     sync.Mutex
	closed bool
	send   chan Frame
}

func NewClient(hub *Hub, conn *websocket.Conn, category Category) *Client {
	return newClient(hub, conn, category, sendBufferSize)
}

func newClient(hub *Hub, conn *websocket.Conn, category Category, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Category: category,
		Hub:      hub,
		Conn:     conn,
		send:     make(chan Frame, buffer),
	}
}

func (c *Client) OnMessage(h MessageHandler) {
	c.onMessage = h
}

// Enqueue queues a frame for the write pump. A client whose queue is full is evicted.
func (c *Client) Enqueue(f Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	select {
	case c.send <- f:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.Hub.Unregister(c)
	return ErrSendBufferFull
}

func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Enqueue(Frame{Data: data})
}

func (c *Client) SendBinary(data []byte) error {
	return c.Enqueue(Frame{Binary: true, Data: data})
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the message handler.
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Hub.logger.Warn("Client", "Unexpected close", map[string]interface{}{"client_id": c.ID, "error": err.Error()})
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.onMessage != nil {
			c.onMessage(c, messageType, data)
		}
	}
}

// writePump pumps frames from the send queue to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			messageType := websocket.TextMessage
			if frame.Binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.Conn.WriteMessage(messageType, frame.Data); err != nil {
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
