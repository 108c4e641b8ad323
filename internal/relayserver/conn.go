package relayserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameSize   = 512 * 1024
	sendQueueDepth = 256
)

// conn is one websocket client. Frames are written only by writePump.
type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newConn(id string, ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn", id[:8]).Logger(),
	}
}

// enqueue queues frame for writing. It returns false if the connection is
// closed or its queue is full.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn().Msg("Send queue full, dropping frame")
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readPump reads frames until the connection fails and hands each to fn.
func (c *conn) readPump(fn func(*conn, []byte)) {
	defer c.close()
	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Connection closed")
			}
			return
		}
		fn(c, data)
	}
}

// writePump writes queued frames and keepalive pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
