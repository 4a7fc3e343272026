package commands

import (
	"context"
	"errors"

	"p2pci/config"
	"p2pci/datastore/flatfs"
	"p2pci/datastore/leveldb"
	"p2pci/peer"

	log "github.com/sirupsen/logrus"
)

func RunPeer(ctx context.Context, cfg *config.Config, fetch []int) {
	store, err := flatfs.New(cfg.DataStore.DocumentPath)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer store.Close()

	catalog, err := leveldb.NewCatalog(cfg.DataStore.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer catalog.Close()

	indexAddress := cfg.Peer.IndexAddress
	if indexAddress == "" {
		if !cfg.Discovery.Enabled {
			log.Fatal("No index address configured and discovery is disabled")
		}
		pubsub, closePubSub, err := openDiscovery(cfg, true, false)
		if err != nil {
			log.Fatalf("Failed to open discovery group: %v", err)
		}
		indexAddress, err = peer.DiscoverIndex(ctx, pubsub)
		closePubSub()
		if err != nil {
			log.Fatalf("Index discovery failed: %v", err)
		}
	}

	agent, err := peer.New(peer.Config{
		IndexAddress: indexAddress,
		Host:         cfg.Peer.Hostname,
		ListenHost:   cfg.Peer.ListenHost,
		FirstPort:    cfg.Peer.FirstPort,
		PortLimit:    cfg.Peer.PortLimit,
		MaxTransfers: cfg.Peer.MaxTransfers,
		Fetch:        append(cfg.Peer.Fetch, fetch...),
		Timeout:      cfg.Peer.Timeout.Duration,
	}, store, catalog)
	if err != nil {
		log.Fatalf("Failed to create peer agent: %v", err)
	}

	// A failed registration is fatal
	if err := agent.Start(ctx); err != nil {
		log.Fatalf("Failed to join the index: %v", err)
	}
	log.Infof("Peer %s serving documents on %s", agent.Host(), agent.TransferAddr())

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Peer agent stopped: %v", err)
	}
}
