package crpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ServerError is an error returned by the remote method.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

// Client issues one call at a time over a single connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *cbor.Encoder
	dec  *cbor.Decoder
	seq  uint64
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		enc:  cbor.NewEncoder(conn),
		dec:  cbor.NewDecoder(conn),
	}
}

// Dial connects to an RPC server at the specified network address.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Call invokes serviceMethod and waits for the reply. Cancelling ctx aborts the call; the
// connection is unusable afterwards.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	seq := c.seq
	c.seq++

	err := c.roundTrip(seq, serviceMethod, args, reply)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) roundTrip(seq uint64, serviceMethod string, args any, reply any) error {
	if err := c.enc.Encode(&RequestHeader{Seq: seq, Method: serviceMethod}); err != nil {
		return err
	}
	if err := c.enc.Encode(args); err != nil {
		return err
	}

	var res ResponseHeader
	if err := c.dec.Decode(&res); err != nil {
		return err
	}
	if res.Seq != seq {
		return fmt.Errorf("crpc: response sequence %d, expected %d", res.Seq, seq)
	}
	if res.Err != "" {
		return ServerError(res.Err)
	}
	return c.dec.Decode(reply)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
