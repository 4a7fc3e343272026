package peer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

// DefaultIndexPort is the index server's well-known port.
const DefaultIndexPort = 7734

const ack = 'A'

// IndexClient is a registered session with the index server. Requests are issued one at a time.
type IndexClient struct {
	Host string
	Port int

	mu     sync.Mutex
	conn   net.Conn
	r      *wire.Reader
	broken bool
}

// DialIndex connects to the index and registers host with its transfer port.
func DialIndex(ctx context.Context, address, host string, port int) (*IndexClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	c := &IndexClient{Host: host, Port: port, conn: conn}
	if err := c.register(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering with %s: %w", address, err)
	}
	c.r = wire.NewReader(conn)

	log.Infof("Registered with index %s as %s:%d", address, host, port)
	return c, nil
}

func (c *IndexClient) register(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := c.conn.Write([]byte(c.Host)); err != nil {
		return err
	}
	if err := c.readAck(); err != nil {
		return fmt.Errorf("hostname: %w", err)
	}

	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(c.Port))
	if _, err := c.conn.Write(raw[:]); err != nil {
		return err
	}
	if err := c.readAck(); err != nil {
		return fmt.Errorf("port: %w", err)
	}
	return nil
}

func (c *IndexClient) readAck() error {
	var b [1]byte
	if _, err := io.ReadFull(c.conn, b[:]); err != nil {
		return err
	}
	if b[0] != ack {
		return fmt.Errorf("unexpected acknowledgement %q", b[0])
	}
	return nil
}

// roundTrip sends req and reads its response. A request that fails midway, including one whose ctx
// is cancelled, leaves the stream out of step, so the session is closed and every later request
// fails with net.ErrClosed. The index purges this peer's records when it sees the close.
func (c *IndexClient) roundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, net.ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	req.Header.Add(wire.HeaderHost, c.Host)
	req.Header.Add(wire.HeaderPort, strconv.Itoa(c.Port))

	res, err := c.exchange(req)
	if err != nil {
		c.broken = true
		c.conn.Close()
		log.Warnf("Index session of %s closed after failed request: %v", c.Host, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return res, nil
}

func (c *IndexClient) exchange(req *wire.Request) (*wire.Response, error) {
	if _, err := req.WriteTo(c.conn); err != nil {
		return nil, err
	}
	return c.r.ReadResponse()
}

// Add announces that this peer holds document n.
func (c *IndexClient) Add(ctx context.Context, n int, title string) (*wire.Record, error) {
	req := wire.NewRequest(wire.MethodAdd, n)
	req.Header.Add(wire.HeaderTitle, title)

	res, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := statusError(res); err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("%w: ADD response without record", wire.ErrMalformed)
	}
	return &res.Records[0], nil
}

// Lookup returns every record for document n. An unknown document is a *StatusError with
// wire.StatusNotFound.
func (c *IndexClient) Lookup(ctx context.Context, n int) ([]wire.Record, error) {
	res, err := c.roundTrip(ctx, wire.NewRequest(wire.MethodLookup, n))
	if err != nil {
		return nil, err
	}
	if err := statusError(res); err != nil {
		return nil, err
	}
	return res.Records, nil
}

// List returns the whole index.
func (c *IndexClient) List(ctx context.Context) ([]wire.Record, error) {
	res, err := c.roundTrip(ctx, wire.NewListRequest())
	if err != nil {
		return nil, err
	}
	if err := statusError(res); err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Close ends the session. The index drops every record of this host.
func (c *IndexClient) Close() error {
	return c.conn.Close()
}
