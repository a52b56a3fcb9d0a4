package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBufferSize = 64
)

// Client pumps one websocket connection. It implements Subscriber: Deliver
// enqueues into the buffered send channel and drops when the peer cannot
// keep up, so a slow consumer never stalls a room broadcast.
type Client struct {
	connectionID string
	userID       string
	conn         *websocket.Conn
	router       *Router
	send         chan Envelope
	logger       *zap.Logger
}

// NewClient wraps an upgraded websocket connection for userID.
func NewClient(connectionID, userID string, conn *websocket.Conn, router *Router, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		connectionID: connectionID,
		userID:       userID,
		conn:         conn,
		router:       router,
		send:         make(chan Envelope, sendBufferSize),
		logger:       logger,
	}
}

func (c *Client) ConnectionID() string { return c.connectionID }

func (c *Client) UserID() string { return c.userID }

// Deliver enqueues an envelope for the write pump.
func (c *Client) Deliver(envelope Envelope) {
	select {
	case c.send <- envelope:
	default:
		c.logger.Warn("dropping event for slow connection",
			zap.String("connection_id", c.connectionID),
			zap.String("event", envelope.Type))
	}
}

// ReadPump consumes inbound messages until the connection dies, handing each
// one to the router in arrival order, then runs disconnect teardown.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.router.Disconnect(ctx, c.connectionID)
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed",
					zap.String("connection_id", c.connectionID), zap.Error(err))
			}
			return
		}
		c.router.HandleMessage(ctx, c, raw)
	}
}

// WritePump drains the send channel to the peer and keeps the connection
// alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case envelope, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(envelope); err != nil {
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
