package transport

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// DialOptions configures Dial. The zero value is usable.
type DialOptions struct {
	Header           http.Header   // extra handshake headers, e.g. Origin
	HandshakeTimeout time.Duration // 0 uses the gorilla default dialer's 45s
}

// Conn is a websocket carrying one JSON message per text frame.
type Conn struct {
	ws *websocket.Conn

	sending sync.Mutex // gorilla allows one concurrent writer
	closing sync.Once
	closed  atomic.Bool
}

// Dial opens a websocket to url.
func Dial(url string, opts DialOptions) (*Conn, error) {
	dialer := *websocket.DefaultDialer
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	}
	ws, resp, err := dialer.Dial(url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "dialing %s (status %s)", url, resp.Status)
		}
		return nil, errors.Annotatef(err, "dialing %s", url)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established websocket, such as one returned by an
// http upgrader.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send writes raw as a single text message.
func (c *Conn) Send(raw []byte) error {
	c.sending.Lock()
	defer c.sending.Unlock()
	return errors.Trace(c.ws.WriteMessage(websocket.TextMessage, raw))
}

// Run reads messages and hands each to process until the connection fails
// or is closed. A process error is logged and the loop goes on. Run returns
// nil after Close or a normal close by the peer, and the read error
// otherwise.
func (c *Conn) Run(process func([]byte) error) error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Trace(err)
		}
		if kind != websocket.TextMessage {
			logger.Warningf("ignoring websocket message of type %d", kind)
			continue
		}
		if err := process(data); err != nil {
			logger.Warningf("cannot process message: %v", err)
		}
	}
}

// Close tells the peer we are leaving and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closing.Do(func() {
		c.closed.Store(true)
		c.sending.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.sending.Unlock()
		err = c.ws.Close()
	})
	return errors.Trace(err)
}
