package commands

import (
	"context"
	"time"

	"p2pci/config"
	"p2pci/index"

	log "github.com/sirupsen/logrus"
)

func RunInfo(ctx context.Context, cfg *config.Config, host string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := index.DialAdmin(ctx, cfg.Index.AdminAddress)
	if err != nil {
		log.Fatalf("Failed to connect to admin RPC at %s: %v", cfg.Index.AdminAddress, err)
	}
	defer cli.Close()

	snap, err := cli.Snapshot(ctx, host)
	if err != nil {
		log.Fatalf("Failed to fetch snapshot: %v", err)
	}

	log.Infof("Index up for %v: %d peers, %d documents", snap.Uptime.Round(time.Second), len(snap.Peers), len(snap.Documents))
	for _, p := range snap.Peers {
		log.Infof("Peer: %s, port: %d, connection: %d", p.Host, p.Port, p.ConnID)
	}
	for _, d := range snap.Documents {
		log.Infof("Document: RFC %d %q at %s:%d", d.Number, d.Title, d.Host, d.Port)
	}
}
