package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs handles websocket requests from the peer. attach, when set, runs before the
// client is registered and returns the handler for its inbound frames.
//
// The connection is released back to its pool once this returns, so both pumps must
// be finished by then.
func ServeWs(hub *Hub, c *websocket.Conn, category Category, attach func(*Client) MessageHandler) {
	client := NewClient(hub, c, category)
	if attach != nil {
		client.OnMessage(attach(client))
	}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump()
	}()
	client.readPump()

	// readPump unregisters the client, which closes send and ends writePump.
	<-done
}
