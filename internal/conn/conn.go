// Package conn owns one client connection: the frame transport over the
// TLS socket, the per-connection request FIFO with its
// at-most-one-in-flight guarantee, and the login state the
// dispatcher reads and writes.
package conn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/dispatcher"
	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/registry"
	"github.com/comcore-chat/comcore/internal/statemachine"
	"github.com/comcore-chat/comcore/internal/wire"
)

// Conn is one live client connection. It implements dispatcher.Session
// (and thereby registry.Conn).
type Conn struct {
	// ID identifies the connection in logs and listener tracking.
	ID string

	sock net.Conn
	disp *dispatcher.Dispatcher
	reg  *registry.Registry
	log  *logger.Logger

	// Outbound frames, already encoded. Writes after close are dropped.
	send chan []byte

	// Inbound raw request lines awaiting the handler loop.
	requests chan []byte

	stateMu sync.Mutex
	state   statemachine.State

	// While a request is in flight, pushes are parked here and flushed
	// after its reply, so a connection always sees its own reply before
	// the pushes that reply triggered (e.g. the login frame).
	deferMu   sync.Mutex
	deferring bool
	deferred  [][]byte

	mu       sync.Mutex
	closed   bool
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	onStop   func(*Conn)
}

// New wraps an accepted socket. onStop, if non-nil, runs once when the
// connection shuts down, so the listener can untrack it.
func New(id string, sock net.Conn, disp *dispatcher.Dispatcher, reg *registry.Registry, onStop func(*Conn)) *Conn {
	return &Conn{
		ID:       id,
		sock:     sock,
		disp:     disp,
		reg:      reg,
		log:      logger.Global().WithPrefix("conn"),
		send:     make(chan []byte, 256),
		requests: make(chan []byte, 64),
		state:    statemachine.LoggedOut(),
		stopChan: make(chan struct{}),
		onStop:   onStop,
	}
}

// Start launches the read pump, the handler loop, and the write pump.
func (c *Conn) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.readPump()
	go c.handleLoop(ctx)
	go c.writePump()

	c.log.Debug("connection %s started", c.ID)
}

// Stop cancels the pumps, deregisters any live session, and closes the
// socket. Safe to call more than once and from any goroutine.
func (c *Conn) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.cancel != nil {
			c.cancel()
		}

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		state := c.State()
		if state.Tag == statemachine.TagLoggedIn {
			c.reg.LogoutConnection(state.UserID, c)
		}

		if err := c.sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("close connection %s: %v", c.ID, err)
		}

		if c.onStop != nil {
			c.onStop(c)
		}
		c.log.Debug("connection %s stopped", c.ID)
	})
}

// State returns the connection's current login state.
func (c *Conn) State() statemachine.State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// SetState replaces the connection's login state.
func (c *Conn) SetState(state statemachine.State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// Push enqueues one outbound frame. Pushes to a cancelled connection are
// silently dropped per the write contract: the peer observes the close instead.
func (c *Conn) Push(kind string, data any) {
	buf, err := wire.Encode(kind, data)
	if err != nil {
		c.log.Error("encode %s push for %s: %v", kind, c.ID, err)
		return
	}

	c.deferMu.Lock()
	if c.deferring {
		c.deferred = append(c.deferred, buf)
		c.deferMu.Unlock()
		return
	}
	c.deferMu.Unlock()
	c.enqueue(buf)
}

// ForceLogout transitions the connection back to LoggedOut and tells the
// client. The registry has already dropped this connection from the
// user's session set.
func (c *Conn) ForceLogout() {
	c.SetState(statemachine.LoggedOut())
	c.Push(wire.PushLogout, struct{}{})
}

func (c *Conn) enqueue(frame []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.send <- frame:
	default:
		// A client this far behind is effectively dead.
		c.log.Warn("send buffer full for connection %s, dropping it", c.ID)
		go c.Stop()
	}
}

// readPump splits the inbound byte stream into lines and feeds the
// request queue. Scanner's line splitter handles both \n and \r\n and
// caps a single frame at MaxFrameSize.
func (c *Conn) readPump() {
	defer c.Stop()

	scanner := bufio.NewScanner(c.sock)
	scanner.Buffer(make([]byte, consts.BufferSize64KB), consts.MaxFrameSize)

	for {
		if err := c.sock.SetReadDeadline(time.Now().Add(consts.ReadTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			err := scanner.Err()
			switch {
			case err == nil, errors.Is(err, io.EOF):
				c.log.Debug("connection %s disconnected", c.ID)
			case errors.Is(err, net.ErrClosed):
			default:
				c.log.Warn("read on connection %s: %v", c.ID, err)
			}
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)

		select {
		case c.requests <- frame:
		case <-c.stopChan:
			return
		}
	}
}

// handleLoop drains the request FIFO one request at a time: pick the
// head, run it to completion, emit exactly one REPLY or ERROR, advance.
func (c *Conn) handleLoop(ctx context.Context) {
	for {
		select {
		case <-c.stopChan:
			return
		case line := <-c.requests:
			c.handleRequest(ctx, line)
		}
	}
}

func (c *Conn) handleRequest(ctx context.Context, line []byte) {
	req, err := wire.ParseRequest(line)
	if err != nil {
		c.enqueue(wire.NewError("malformed request"))
		return
	}

	c.deferMu.Lock()
	c.deferring = true
	c.deferMu.Unlock()

	reply, err := c.disp.Handle(ctx, c, req.Kind, req.Data)

	var replyFrame []byte
	unauthorized := false
	if err != nil {
		if message, ok := dispatcher.IsRequestError(err); ok {
			replyFrame = wire.NewError(message)
			unauthorized = dispatcher.IsUnauthorized(err)
		} else {
			c.log.Error("request %s on connection %s: %v", req.Kind, c.ID, err)
			replyFrame = wire.NewError("internal server error")
		}
	} else {
		replyFrame, err = wire.NewReply(reply)
		if err != nil {
			c.log.Error("encode reply for %s on connection %s: %v", req.Kind, c.ID, err)
			replyFrame = wire.NewError("internal server error")
		}
	}

	c.deferMu.Lock()
	c.deferring = false
	deferred := c.deferred
	c.deferred = nil
	c.deferMu.Unlock()

	c.enqueue(replyFrame)
	for _, frame := range deferred {
		c.enqueue(frame)
	}
	if unauthorized {
		// The error reply lands first, then the connection drops back to
		// LoggedOut and learns about it.
		c.resetToLoggedOut()
	}
}

// resetToLoggedOut is the Unauthorized side effect: deregister, drop to
// LoggedOut, push logout.
func (c *Conn) resetToLoggedOut() {
	state := c.State()
	if state.Tag == statemachine.TagLoggedIn {
		c.reg.LogoutConnection(state.UserID, c)
	}
	c.SetState(statemachine.LoggedOut())
	c.Push(wire.PushLogout, struct{}{})
}

// writePump serializes all socket writes through one goroutine.
func (c *Conn) writePump() {
	defer c.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case frame := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(consts.WriteTimeout)); err != nil {
				return
			}
			if _, err := c.sock.Write(frame); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					c.log.Debug("write on connection %s: %v", c.ID, err)
				}
				return
			}
		}
	}
}
