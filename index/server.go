// Package index implements the P2P-CI index server. Connection goroutines run the registration
// handshake and frame commands; a single event loop owns the registry and handles every command,
// so the registry needs no locking.
package index

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"p2pci/protocol"
	"p2pci/registry"
	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultWakeInterval     = 30 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Events delivered to the loop. Events from one connection arrive in the order it produced them.
type (
	registeredEvent struct {
		c *conn
	}
	messageEvent struct {
		c   *conn
		msg *wire.Message
	}
	closedEvent struct {
		c   *conn
		err error
	}
	snapshotEvent struct {
		host  string
		reply chan *protocol.SnapshotResponse
	}
)

type Server struct {
	// Periodic wake of the loop. Only logs registry sizes, it never closes idle connections.
	WakeInterval time.Duration
	// Bound on writing one response to a connection.
	WriteTimeout time.Duration
	// Bound on the registration handshake. Zero disables it.
	HandshakeTimeout time.Duration

	listener net.Listener
	registry *registry.Registry
	events   chan any
	done     chan struct{}
	started  time.Time

	// Owned by the loop
	conns map[uint64]*conn

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		WakeInterval:     DefaultWakeInterval,
		WriteTimeout:     DefaultWriteTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		listener:         listener,
		registry:         registry.New(),
		events:           make(chan any),
		done:             make(chan struct{}),
		conns:            make(map[uint64]*conn),
	}
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections and services them until ctx is cancelled. All open connections are
// closed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	s.started = time.Now()
	log.Infof("Index server listening on %s", s.listener.Addr())

	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- s.acceptLoop(ctx)
	}()

	err := s.loop(ctx, acceptErr)

	close(s.done)
	s.listener.Close()
	for _, c := range s.conns {
		c.nc.Close()
	}
	s.wg.Wait()

	log.Infof("Index server on %s stopped", s.listener.Addr())
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	var tempDelay time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = max(5*time.Millisecond, min(2*tempDelay, time.Second))
				log.Warnf("Accept error on %s: %v; retrying in %v", s.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		c := newConn(s.nextID.Add(1), nc)
		log.Debugf("Accepted connection %d from %s", c.id, nc.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, c)
		}()
	}
}

func (s *Server) loop(ctx context.Context, acceptErr <-chan error) error {
	wake := s.WakeInterval
	if wake <= 0 {
		wake = DefaultWakeInterval
	}
	ticker := time.NewTicker(wake)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-acceptErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("Index server stopped accepting: %v", err)
			return err

		case <-ticker.C:
			log.Debugf("Index: %d connections, %d peers, %d documents",
				len(s.conns), s.registry.Peers.Len(), s.registry.Documents.Len())

		case ev := <-s.events:
			switch ev := ev.(type) {
			case registeredEvent:
				s.handleRegistered(ev.c)
			case messageEvent:
				s.handleMessage(ev.c, ev.msg)
			case closedEvent:
				s.handleClosed(ev.c, ev.err)
			case snapshotEvent:
				ev.reply <- s.snapshot(ev.host)
			}
		}
	}
}

// post hands an event to the loop. It reports false once the server is shutting down.
func (s *Server) post(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) handleRegistered(c *conn) {
	if existing := s.registry.Peers.FindByHost(c.host); existing != nil {
		log.Warnf("Host %s registered again on connection %d (already on connection %d)", c.host, c.id, existing.ConnID)
	}

	s.conns[c.id] = c
	s.registry.Peers.Insert(&registry.Peer{Host: c.host, Port: c.port, ConnID: c.id})
	log.Infof("Peer %s registered with transfer port %d (connection %d)", c.host, c.port, c.id)
}

func (s *Server) handleMessage(c *conn, msg *wire.Message) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}

	res := s.dispatch(c, msg)
	log.Debugf("%s %q -> %d", c.host, msg.Start, res.Status)

	c.nc.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	if _, err := res.WriteTo(c.nc); err != nil {
		log.Errorf("Dropping %s (connection %d): failed to write response: %v", c.host, c.id, err)
		c.nc.Close()
	}
}

func (s *Server) handleClosed(c *conn, err error) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)

	if err != nil {
		log.Errorf("Connection %d from %s failed: %v", c.id, c.host, err)
	}

	found, purged := s.registry.Remove(c.id, c.host)
	if !found {
		log.Warnf("Peer %s left but was not registered; purged %d documents", c.host, purged)
		return
	}
	log.Infof("Peer %s left, purged %d documents", c.host, purged)
}

func (s *Server) snapshot(host string) *protocol.SnapshotResponse {
	res := &protocol.SnapshotResponse{Uptime: time.Since(s.started)}
	for _, p := range s.registry.Peers.All() {
		res.Peers = append(res.Peers, protocol.PeerEntry{Host: p.Host, Port: p.Port, ConnID: p.ConnID})
	}

	docs := s.registry.Documents.All()
	if host != "" {
		docs = s.registry.Documents.FindAllByHost(host)
	}
	for _, d := range docs {
		res.Documents = append(res.Documents, protocol.DocumentEntry{Number: d.Number, Title: d.Title, Host: d.Host, Port: d.Port})
	}
	return res
}

// Snapshot returns a copy of both registries taken on the loop.
func (s *Server) Snapshot(ctx context.Context, host string) (*protocol.SnapshotResponse, error) {
	reply := make(chan *protocol.SnapshotResponse, 1)
	select {
	case s.events <- snapshotEvent{host: host, reply: reply}:
	case <-s.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
