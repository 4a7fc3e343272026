package index

import (
	"context"
	"time"

	"p2pci/protocol"
)

const snapshotTimeout = 5 * time.Second

// Admin is the RPC service exposing the registry to operators.
type Admin struct {
	srv *Server
}

func NewAdmin(srv *Server) *Admin {
	return &Admin{srv: srv}
}

func (a *Admin) Snapshot(req *protocol.SnapshotRequest, res *protocol.SnapshotResponse) error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := a.srv.Snapshot(ctx, req.Host)
	if err != nil {
		return err
	}
	*res = *snap
	return nil
}
