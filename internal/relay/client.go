package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("relay client closed")

	// ErrNotConnected is returned before Connect succeeds.
	ErrNotConnected = errors.New("relay client not connected")
)

// Handler receives messages published on subscribed topics. It runs on the
// client's read goroutine and must not block or call back into the client.
type Handler func(SubscriptionData)

// Client is a websocket connection to a relay.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[int64]chan *Response
	subs    map[string]string // topic -> subscription id
	handler Handler

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for relayURL. projectID is appended as the
// projectId query parameter when set.
func NewClient(relayURL, projectID string) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay url must be ws:// or wss://, got %q", relayURL)
	}
	if projectID != "" {
		q := u.Query()
		q.Set("projectId", projectID)
		u.RawQuery = q.Encode()
	}
	return &Client{
		url:     u.String(),
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  ulog.Relay,
		pending: make(map[int64]chan *Response),
		subs:    make(map[string]string),
		done:    make(chan struct{}),
	}, nil
}

// OnMessage sets the subscription handler. Call before Connect.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect dials the relay and starts the read and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	go c.readLoop(conn)
	go c.keepalive(conn)

	c.logger.Info().Str("url", redactQuery(c.url)).Msg("Connected to relay")
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subscribe subscribes to topic and returns the subscription id.
// Subscribing twice returns the existing id.
func (c *Client) Subscribe(ctx context.Context, topic string) (string, error) {
	c.mu.Lock()
	if id, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	var id string
	if err := c.call(ctx, MethodSubscribe, SubscribeParams{Topic: topic}, &id); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.subs[topic] = id
	c.mu.Unlock()
	ulog.WithTopic("relay", topic).Debug().Str("subscription", id).Msg("Subscribed")
	return id, nil
}

// Unsubscribe drops the subscription for topic. Unknown topics are a no-op.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	id, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	var ack bool
	return c.call(ctx, MethodUnsubscribe, UnsubscribeParams{Topic: topic, ID: id}, &ack)
}

// Publish sends an encrypted envelope to topic.
func (c *Client) Publish(ctx context.Context, topic, message string, opts PublishOptions) error {
	var ack bool
	return c.call(ctx, MethodPublish, PublishParams{
		Topic:   topic,
		Message: message,
		TTL:     int64(opts.TTL / time.Second),
		Tag:     opts.Tag,
	}, &ack)
}

// Topics returns the subscribed topics.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Close closes the connection and fails pending calls.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		conn := c.conn
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
		c.writeMu.Unlock()

		// Pending calls observe done.
		c.mu.Lock()
		clear(c.pending)
		c.mu.Unlock()
	})
	return err
}

// call sends a request and waits for its response.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write to relay: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("Relay connection lost")
			}
			return
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Dropping malformed relay frame")
			continue
		}

		if !msg.IsRequest() {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- msg.Response():
				default:
				}
			}
			continue
		}

		if msg.Method != MethodSubscription {
			c.write(NewError(msg.ID, CodeMethodNotFound, "method not found"))
			continue
		}
		var p SubscriptionParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			c.write(NewError(msg.ID, CodeInvalidParams, err.Error()))
			continue
		}

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(p.Data)
		}

		ack, _ := NewResult(msg.ID, true)
		if err := c.write(ack); err != nil {
			c.logger.Debug().Err(err).Msg("Subscription ack failed")
		}
	}
}

func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// redactQuery strips query parameters from a URL for logging.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
