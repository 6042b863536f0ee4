package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ride-messaging/internal/models"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 30 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize = int64(64 * 1024)    // max inbound message size (64KB)
	sendBufSize    = 256                 // outbound buffer size
)

// WebSocket is a Transport over gorilla/websocket.
type WebSocket struct {
	dialer *websocket.Dialer
	logger *zap.Logger

	mu        sync.Mutex
	conn      *wsConn
	onMessage func(models.Event)
	onClose   func(error)
	onError   func(error)
}

// NewWebSocket builds a WebSocket transport. A nil dialer uses websocket.DefaultDialer.
func NewWebSocket(dialer *websocket.Dialer, logger *zap.Logger) *WebSocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{dialer: dialer, logger: logger}
}

// OnMessage registers the inbound event handler.
func (w *WebSocket) OnMessage(handler func(models.Event)) {
	w.mu.Lock()
	w.onMessage = handler
	w.mu.Unlock()
}

// OnClose registers the handler for connections closed by the peer.
func (w *WebSocket) OnClose(handler func(error)) {
	w.mu.Lock()
	w.onClose = handler
	w.mu.Unlock()
}

// OnError registers the handler for read/write failures.
func (w *WebSocket) OnError(handler func(error)) {
	w.mu.Lock()
	w.onError = handler
	w.mu.Unlock()
}

// Open dials url with the bearer token. Any previous connection is closed
// without firing callbacks.
func (w *WebSocket) Open(ctx context.Context, url, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	raw, resp, err := w.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return wrap("open", err)
	}

	c := &wsConn{
		owner:  w,
		raw:    raw,
		egress: make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}

	w.mu.Lock()
	prev := w.conn
	w.conn = c
	w.mu.Unlock()
	if prev != nil {
		prev.shutdown()
	}

	go c.readPump()
	go c.writePump()
	w.logger.Debug("websocket opened", zap.String("url", url))
	return nil
}

// Send enqueues ev on the live connection without blocking on the network.
func (w *WebSocket) Send(ctx context.Context, ev models.Event) error {
	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return wrap("send", ErrNotOpen)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return wrap("send", err)
	}
	if err := ctx.Err(); err != nil {
		return wrap("send", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return wrap("send", ErrNotOpen)
	}
	select {
	case c.egress <- payload:
		return nil
	default:
		return wrap("send", ErrBufferFull)
	}
}

// Close closes the live connection without firing callbacks.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	c := w.conn
	w.conn = nil
	w.mu.Unlock()
	if c != nil {
		c.shutdown()
	}
	return nil
}

// drop detaches c if it is still the live connection and reports whether
// callbacks should fire for it.
func (w *WebSocket) drop(c *wsConn) (func(error), func(error), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != c {
		return nil, nil, false
	}
	w.conn = nil
	return w.onClose, w.onError, true
}

func (w *WebSocket) deliver(ev models.Event) {
	w.mu.Lock()
	handler := w.onMessage
	w.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

type wsConn struct {
	owner  *WebSocket
	raw    *websocket.Conn
	egress chan []byte
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.raw.Close()
	})
}

// fail tears the connection down after a peer close or an I/O error and
// notifies the owner if this is still the live connection.
func (c *wsConn) fail(err error) {
	onClose, onError, live := c.owner.drop(c)
	c.shutdown()
	if !live {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.owner.logger.Info("websocket closed by peer", zap.Error(err))
		if onClose != nil {
			onClose(err)
		}
		return
	}
	c.owner.logger.Warn("websocket failed", zap.Error(err))
	if onError != nil {
		onError(wrap("read", err))
		return
	}
	if onClose != nil {
		onClose(err)
	}
}

func (c *wsConn) readPump() {
	c.raw.SetReadLimit(maxMessageSize)
	_ = c.raw.SetReadDeadline(time.Now().Add(pongWait))
	c.raw.SetPongHandler(func(string) error {
		return c.raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.Event
		if err := c.raw.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.owner.logger.Warn("websocket read timed out")
			}
			if malformedEvent(err) {
				c.owner.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			c.fail(err)
			return
		}
		c.owner.deliver(ev)
	}
}

// malformedEvent reports whether a read failed only because the frame did not
// decode into an Event; the connection itself is still usable.
func malformedEvent(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.egress:
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.raw.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.fail(wrap("write", err))
				return
			}
		case <-ticker.C:
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.raw.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(wrap("ping", err))
				return
			}
		}
	}
}
