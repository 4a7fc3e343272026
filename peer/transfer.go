package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"p2pci/datamodel/document"
	"p2pci/wire"

	"golang.org/x/sync/semaphore"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultTransferPort = 7735
	MaxTransferPort     = 8500 // Exclusive
	DefaultMaxTransfers = 16
	DefaultIOTimeout    = 30 * time.Second
)

// ListenTransfer binds host:first, moving on to the next port while the port is taken, up to but
// not including limit. first == 0 binds an ephemeral port.
func ListenTransfer(host string, first, limit int) (net.Listener, error) {
	if first == 0 {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}

	for port := first; port < limit; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		log.Debugf("Transfer port %d is taken, trying %d", port, port+1)
	}
	return nil, fmt.Errorf("no free transfer port in [%d, %d)", first, limit)
}

// TransferServer answers one GET per connection from the local document store. Connections are
// served concurrently, at most maxTransfers at a time.
type TransferServer struct {
	IOTimeout time.Duration

	listener net.Listener
	store    document.DocumentStore
	sem      *semaphore.Weighted
	osName   string
}

func NewTransferServer(listener net.Listener, store document.DocumentStore, maxTransfers int64) *TransferServer {
	if maxTransfers <= 0 {
		maxTransfers = DefaultMaxTransfers
	}
	return &TransferServer{
		IOTimeout: DefaultIOTimeout,
		listener:  listener,
		store:     store,
		sem:       semaphore.NewWeighted(maxTransfers),
		osName:    OSName(),
	}
}

func (s *TransferServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TransferServer) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve accepts transfer connections until ctx is cancelled.
func (s *TransferServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	log.Infof("Transfer server listening on %s", s.listener.Addr())

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		conn, err := s.listener.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warnf("Transfer accept error: %v", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}

		go func() {
			defer s.sem.Release(1)
			s.serveConn(conn)
		}()
	}
}

// serveConn handles a single request. A panic is contained to this connection.
func (s *TransferServer) serveConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Transfer to %s panicked: %v\n%s", conn.RemoteAddr(), r, debug.Stack())
		}
	}()

	conn.SetDeadline(time.Now().Add(s.IOTimeout))

	msg, err := wire.NewReader(conn).ReadMessage()
	if err != nil {
		log.Errorf("Reading transfer request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	res := s.respond(msg)
	log.Debugf("Transfer %q from %s -> %d", msg.Start, conn.RemoteAddr(), res.Status)

	if _, err := res.WriteTo(conn); err != nil {
		log.Errorf("Writing transfer response to %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *TransferServer) respond(msg *wire.Message) *wire.Response {
	if !strings.HasPrefix(msg.Start, wire.MethodGet+" ") {
		return wire.NewResponse(wire.StatusBadRequest)
	}
	req, err := wire.ParseRequest(msg)
	if err != nil || req.Method != wire.MethodGet {
		return wire.NewResponse(wire.StatusBadRequest)
	}
	if req.Version != wire.Version {
		return wire.NewResponse(wire.StatusVersionNotSupported)
	}
	n, err := req.RFC()
	if err != nil {
		return wire.NewResponse(wire.StatusBadRequest)
	}

	doc, err := s.store.Get(n)
	if err != nil {
		if !errors.Is(err, document.ErrNotFound) {
			log.Errorf("Reading RFC %d from the store: %v", n, err)
		}
		return wire.NewResponse(wire.StatusNotFound)
	}

	res := wire.NewResponse(wire.StatusOK)
	res.Header.Add(wire.HeaderDate, time.Now().UTC().Format(wire.TimeFormat))
	res.Header.Add(wire.HeaderOS, s.osName)
	res.Header.Add(wire.HeaderLastModified, doc.ModTime.UTC().Format(wire.TimeFormat))
	res.Header.Add(wire.HeaderContentLength, strconv.Itoa(len(doc.Data)))
	res.Header.Add(wire.HeaderContentType, wire.ContentType)
	res.Body = doc.Data
	return res
}
