package index

import (
	"context"

	"p2pci/net/crpc"
	"p2pci/protocol"
)

// AdminClient is a typed client for the Admin RPC service.
type AdminClient struct {
	client *crpc.Client
}

func DialAdmin(ctx context.Context, address string) (*AdminClient, error) {
	c, err := crpc.Dial(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &AdminClient{client: c}, nil
}

func (c *AdminClient) Close() error {
	return c.client.Close()
}

// Snapshot fetches both registries. A non-empty host restricts the documents to that host.
func (c *AdminClient) Snapshot(ctx context.Context, host string) (*protocol.SnapshotResponse, error) {
	res := &protocol.SnapshotResponse{}
	if err := c.client.Call(ctx, "Admin.Snapshot", &protocol.SnapshotRequest{Host: host}, res); err != nil {
		return nil, err
	}
	return res, nil
}
