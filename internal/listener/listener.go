// Package listener accepts TLS client connections,
// tracks them for graceful shutdown, and runs the periodic invite-link
// sweep so the Store stays bounded over a long-lived process.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/comcore-chat/comcore/internal/config"
	"github.com/comcore-chat/comcore/internal/conn"
	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/dispatcher"
	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/registry"
	"github.com/comcore-chat/comcore/internal/store"
	"github.com/comcore-chat/comcore/internal/wire"
)

// DefaultMaxConnections caps concurrent clients. The config has no setting
// for it, so every Listener uses this value.
const DefaultMaxConnections = 4096

// Listener is the TLS accept loop plus connection bookkeeping.
type Listener struct {
	cfg  *config.Config
	st   store.Store
	disp *dispatcher.Dispatcher
	reg  *registry.Registry
	log  *logger.Logger

	ln net.Listener

	connMu        sync.Mutex
	conns         map[string]*conn.Conn
	connIDCounter int
	maxConns      int

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
}

// New constructs a Listener.
func New(cfg *config.Config, st store.Store, disp *dispatcher.Dispatcher, reg *registry.Registry) *Listener {
	return &Listener{
		cfg:      cfg,
		st:       st,
		disp:     disp,
		reg:      reg,
		log:      logger.Global().WithPrefix("listener"),
		conns:    make(map[string]*conn.Conn),
		maxConns: DefaultMaxConnections,
		stopChan: make(chan struct{}),
	}
}

// Start loads the server certificate, binds the listen address, and
// launches the accept and sweep loops.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("listener is already running")
	}
	l.running = true
	l.mu.Unlock()

	cert, err := tls.LoadX509KeyPair(l.cfg.TLSCert, l.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := tls.Listen("tcp", l.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.cfg.ListenAddr, err)
	}
	l.ln = ln

	go l.acceptLoop(ctx)
	go l.sweepLoop(ctx)

	l.log.Info("listening on %s (max connections: %d)", l.cfg.ListenAddr, l.maxConns)
	return nil
}

// Stop refuses new connections, sends every live connection an end frame,
// waits for them to drain within the shutdown grace, then closes whatever
// is left. Errors along the way are logged, never fatal: each step still runs.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.log.Info("shutting down listener")
		close(l.stopChan)

		if l.ln != nil {
			if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				l.log.Error("close listener: %v", err)
			}
		}

		for _, c := range l.snapshot() {
			c.Push(wire.PushEnd, struct{}{})
		}

		deadline := time.Now().Add(consts.ShutdownGrace)
		for time.Now().Before(deadline) && l.ConnectionCount() > 0 {
			time.Sleep(100 * time.Millisecond)
		}

		for _, c := range l.snapshot() {
			c.Stop()
		}

		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		l.log.Info("listener stopped")
	})
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		sock, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error("accept: %v", err)
			continue
		}

		if l.ConnectionCount() >= l.maxConns {
			l.log.Warn("connection limit reached, rejecting %s", sock.RemoteAddr())
			sock.Close()
			continue
		}

		c := conn.New(l.nextConnID(), sock, l.disp, l.reg, l.untrack)
		l.track(c)
		c.Start()
		l.log.Info("accepted %s as %s (total: %d)", sock.RemoteAddr(), c.ID, l.ConnectionCount())
	}
}

// sweepLoop periodically drops invite links past their grace window.
func (l *Listener) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(consts.InviteLinkSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			deadline := time.Now().Add(-consts.InviteLinkGrace).UnixMilli()
			n, err := l.st.SweepInviteLinks(ctx, deadline)
			if err != nil {
				l.log.Error("sweep invite links: %v", err)
				continue
			}
			if n > 0 {
				l.log.Info("swept %d expired invite links", n)
			}
		}
	}
}

// Addr returns the bound listen address, useful when the configured port
// was 0.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// ConnectionCount returns the number of tracked connections.
func (l *Listener) ConnectionCount() int {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return len(l.conns)
}

func (l *Listener) track(c *conn.Conn) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conns[c.ID] = c
}

func (l *Listener) untrack(c *conn.Conn) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	delete(l.conns, c.ID)
}

func (l *Listener) snapshot() []*conn.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	conns := make([]*conn.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	return conns
}

func (l *Listener) nextConnID() string {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.connIDCounter++
	return fmt.Sprintf("conn_%d", l.connIDCounter)
}
