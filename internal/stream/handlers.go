package stream

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

func RegisterRoutes(r fiber.Router, hub *Hub, d *Dispatcher) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		client := hub.Register()
		hub.log.Debug("websocket connected", "client_id", client.ID, "remote", c.RemoteAddr().String())

		c.SetReadLimit(maxMessageSize)
		_ = c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			writePump(c, client)
		}()

		ctx := context.Background()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			d.Handle(ctx, client, msg)
		}

		hub.Unregister(client)
		<-done
		hub.log.Debug("websocket disconnected", "client_id", client.ID)
	}))
}

// writePump is the only writer on the connection. It exits when the send
// queue is closed or a write fails.
func writePump(c *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
