package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/core/domain"
)

const (
	writeTimeout = 10 * time.Second
	readLimit    = 512 * 1024 // 512KB max message size
	outBuffer    = 256
)

// Conn adapts one gorilla connection to the session layer's channel
// contract. Writes go through a buffered queue drained by a single writer
// goroutine; reads happen on the caller's loop.
type Conn struct {
	id          string
	ws          *websocket.Conn
	state       atomic.Int32
	out         chan domain.Envelope
	readTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	once        sync.Once
	log         *slog.Logger
}

// NewConn wraps an upgraded socket. readTimeout bounds how long the read
// loop waits for any inbound frame; zero disables the deadline.
func NewConn(parent context.Context, wsConn *websocket.Conn, log *slog.Logger, readTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(parent)
	c := &Conn{
		id:          uuid.NewString(),
		ws:          wsConn,
		out:         make(chan domain.Envelope, outBuffer),
		readTimeout: readTimeout,
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
	c.state.Store(int32(domain.StateConnecting))
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() domain.ChannelState {
	return domain.ChannelState(c.state.Load())
}

// Open marks the handshake complete. Only a connecting channel can open.
func (c *Conn) Open() bool {
	return c.state.CompareAndSwap(int32(domain.StateConnecting), int32(domain.StateOpen))
}

// Send queues the envelope for the writer goroutine. It does not block: a
// slow client fills the queue and gets an error instead of stalling the
// session layer.
func (c *Conn) Send(ctx context.Context, env domain.Envelope) error {
	switch c.State() {
	case domain.StateClosing, domain.StateClosed:
		return domain.ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return domain.ErrChannelClosed
	case c.out <- env:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// ReadLoop pumps inbound frames into onMsg until the connection drops or
// stays silent past the read deadline.
func (c *Conn) ReadLoop(onMsg func(data []byte)) {
	defer c.shutdown("read loop ended")

	c.ws.SetReadLimit(readLimit)
	c.refreshReadDeadline()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws - read loop - unexpected close", "channel_id", c.id, "err", err)
			}
			return
		}
		c.refreshReadDeadline()
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (c *Conn) refreshReadDeadline() {
	if c.readTimeout <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
}

// Close ends the channel, telling the peer why. Safe to call more than once.
func (c *Conn) Close(reason string) error {
	c.shutdown(reason)
	return nil
}

func (c *Conn) shutdown(reason string) {
	c.once.Do(func() {
		c.state.Store(int32(domain.StateClosing))
		// Best effort close frame so well-behaved clients see the reason.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		c.cancel()
		_ = c.ws.Close()
		c.state.Store(int32(domain.StateClosed))
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.log.Warn("ws - write loop - write failed", "channel_id", c.id, "type", env.Type, "err", err)
				c.shutdown("write failed")
				return
			}
		}
	}
}
