package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

// Ack is the single byte acknowledging each registration step.
const Ack = 'A'

// maxHostnameLen bounds the hostname read during registration.
const maxHostnameLen = 256

// conn is one index connection. host and port are set by the handshake before the loop learns about
// the connection and are read-only afterwards.
type conn struct {
	id   uint64
	nc   net.Conn
	br   *bufio.Reader
	host string
	port int
}

func newConn(id uint64, nc net.Conn) *conn {
	return &conn{id: id, nc: nc, br: bufio.NewReaderSize(nc, 4096)}
}

// serveConn registers the peer, then forwards framed commands to the loop until the stream ends.
func (s *Server) serveConn(ctx context.Context, c *conn) {
	stop := context.AfterFunc(ctx, func() { c.nc.Close() })
	defer stop()

	if err := s.handshake(c); err != nil {
		log.Errorf("Registration of connection %d from %s failed: %v", c.id, c.nc.RemoteAddr(), err)
		c.nc.Close()
		return
	}
	if !s.post(registeredEvent{c: c}) {
		c.nc.Close()
		return
	}

	r := wire.NewReader(c.br)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			c.nc.Close()
			s.post(closedEvent{c: c, err: err})
			return
		}
		if !s.post(messageEvent{c: c, msg: msg}) {
			c.nc.Close()
			return
		}
	}
}

// handshake reads the hostname in a single read, acknowledges it, reads the 4-byte big-endian
// transfer port and acknowledges that too.
func (s *Server) handshake(c *conn) error {
	if s.HandshakeTimeout > 0 {
		c.nc.SetDeadline(time.Now().Add(s.HandshakeTimeout))
		defer c.nc.SetDeadline(time.Time{})
	}

	buf := make([]byte, maxHostnameLen)
	n, err := c.br.Read(buf)
	if err != nil {
		return fmt.Errorf("reading hostname: %w", err)
	}
	host := strings.TrimSpace(strings.TrimRight(string(buf[:n]), "\x00"))
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("invalid hostname %q", buf[:n])
	}
	if _, err := c.nc.Write([]byte{Ack}); err != nil {
		return fmt.Errorf("acknowledging hostname: %w", err)
	}

	var raw [4]byte
	if _, err := io.ReadFull(c.br, raw[:]); err != nil {
		return fmt.Errorf("reading transfer port: %w", err)
	}
	port := binary.BigEndian.Uint32(raw[:])
	if port == 0 || port > 65535 {
		return fmt.Errorf("invalid transfer port %d", port)
	}
	if _, err := c.nc.Write([]byte{Ack}); err != nil {
		return fmt.Errorf("acknowledging transfer port: %w", err)
	}

	c.host = host
	c.port = int(port)
	return nil
}
