package peer

import (
	"context"
	"fmt"
	"net"
	"time"

	"p2pci/datamodel/document"
	"p2pci/wire"
)

// StatusError is a non-200 response from the index or a transfer server.
type StatusError struct {
	Status wire.Status
	Phrase string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", int(e.Status), e.Phrase)
}

func statusError(res *wire.Response) error {
	if res.Status == wire.StatusOK {
		return nil
	}
	return &StatusError{Status: res.Status, Phrase: res.Phrase}
}

// Get downloads document n from the transfer server at address. host and osName fill the request
// headers.
func Get(ctx context.Context, address string, n int, host, osName string) (*document.Document, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	req := wire.NewRequest(wire.MethodGet, n)
	req.Header.Add(wire.HeaderHost, host)
	req.Header.Add(wire.HeaderOS, osName)
	if _, err := req.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("sending GET: %w", err)
	}

	res, err := wire.NewReader(conn).ReadResponse()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading GET response: %w", err)
	}
	if err := statusError(res); err != nil {
		return nil, err
	}

	doc := &document.Document{Number: n, Data: res.Body}
	if v, ok := res.Header.Get(wire.HeaderLastModified); ok {
		if t, err := time.Parse(wire.TimeFormat, v); err == nil {
			doc.ModTime = t
		}
	}
	return doc, nil
}
