// Package ws carries STATE/REPLY over a persistent websocket. Replies are
// matched to requests by request_id.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/transport"
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrClosed       = errors.New("ws: client closed")
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	maxBackoff   = 5 * time.Second
)

type result struct {
	body []byte
	err  error
}

type Client struct {
	url    string
	log    *log.Logger
	header http.Header

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastErr   string
	pending   map[string]chan result
	order     []string
	unmatched uint64

	writeMu sync.Mutex
}

func NewClient(url string, logger *log.Logger) (*Client, error) {
	if scheme, err := transport.Scheme(url); err != nil {
		return nil, err
	} else if scheme != "ws" {
		return nil, fmt.Errorf("ws: not a websocket url: %s", url)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		url:     url,
		log:     logger,
		header:  http.Header{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: map[string]chan result{},
	}, nil
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.disconnect(ErrClosed)
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
	})
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Unmatched counts replies that arrived with no waiting request.
func (c *Client) Unmatched() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unmatched
}

// Exchange sends one STATE frame and waits for the matching reply. It fails
// fast while the connection is down; the bridge simply tries again next tick.
func (c *Client) Exchange(ctx context.Context, req transport.Request) (transport.Response, error) {
	if req.RequestID == "" {
		return transport.Response{}, errors.New("ws: request_id required")
	}
	ch := make(chan result, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return transport.Response{}, ErrNotConnected
	}
	c.pending[req.RequestID] = ch
	c.order = append(c.order, req.RequestID)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteMessage(websocket.TextMessage, req.Body)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.RequestID)
		return transport.Response{}, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return transport.Response{}, r.err
		}
		return transport.Response{StatusCode: http.StatusOK, Body: r.body}, nil
	case <-ctx.Done():
		c.forget(req.RequestID)
		return transport.Response{}, ctx.Err()
	case <-c.stop:
		return transport.Response{}, ErrClosed
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeLocked(id)
}

func (c *Client) takeLocked(id string) (chan result, bool) {
	ch, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return ch, true
}

// deliver routes a reply. A reply without request_id goes to the oldest
// waiting request.
func (c *Client) deliver(msg []byte) {
	base, _ := protocol.DecodeBase(msg)
	c.mu.Lock()
	id := base.RequestID
	if id == "" && len(c.order) > 0 {
		id = c.order[0]
	}
	ch, ok := c.takeLocked(id)
	if !ok {
		c.unmatched++
	}
	c.mu.Unlock()
	if !ok {
		c.log.Printf("ws: unmatched reply (request_id %q)", base.RequestID)
		return
	}
	ch <- result{body: msg}
}

func (c *Client) disconnect(cause error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	waiting := c.pending
	c.pending = map[string]chan result{}
	c.order = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range waiting {
		ch <- result{err: cause}
	}
}

func (c *Client) run() {
	defer close(c.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		err := c.connectAndReadLoop()
		if err == nil {
			return
		}
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.disconnect(fmt.Errorf("ws: connection lost: %w", err))
		c.log.Printf("ws: %v (retry in %s)", err, backoff)

		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (c *Client) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(c.url, c.header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastErr = ""
	c.mu.Unlock()
	c.log.Printf("ws: connected to %s", c.url)

	for {
		select {
		case <-c.stop:
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				return nil
			default:
			}
			return err
		}
		c.deliver(msg)
	}
}
