package commands

import (
	"context"
	"errors"
	"net"

	"p2pci/config"
	"p2pci/helper/timer"
	"p2pci/index"
	"p2pci/net/crpc"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

func RunIndex(ctx context.Context, cfg *config.Config) {
	l, err := net.Listen("tcp", cfg.Index.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create index listener: %v", err)
	}

	srv := index.NewServer(l)
	srv.WakeInterval = cfg.Index.WakeInterval.Duration
	srv.WriteTimeout = cfg.Index.WriteTimeout.Duration
	srv.HandshakeTimeout = cfg.Index.HandshakeTimeout.Duration

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Index.AdminAddress != "" {
		rpcl, err := net.Listen("tcp", cfg.Index.AdminAddress)
		if err != nil {
			log.Fatalf("Failed to create admin RPC listener: %v", err)
		}
		rsrv := crpc.NewServer(rpcl)
		if err := rsrv.Register(index.NewAdmin(srv)); err != nil {
			log.Fatalf("Failed to register admin service: %v", err)
		}
		log.Infof("Admin RPC listening on %s", rsrv.Addr())
		g.Go(func() error {
			return rsrv.Serve(ctx)
		})
	}

	if cfg.Discovery.Enabled {
		pubsub, closePubSub, err := openDiscovery(cfg, false, true)
		if err != nil {
			log.Fatalf("Failed to open discovery group: %v", err)
		}
		defer closePubSub()

		announcer := index.NewAnnouncer(pubsub, advertisedAddress(l.Addr()), &timer.Interval{
			Duration: cfg.Discovery.Interval.Duration,
			Jitter:   cfg.Discovery.Jitter.Duration,
		})
		g.Go(func() error {
			return announcer.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Index server failed: %v", err)
	}
}

// advertisedAddress replaces an unspecified listen IP with the first non-loopback interface address.
func advertisedAddress(addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok || !tcpAddr.IP.IsUnspecified() {
		return addr.String()
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Warnf("Failed to list interface addresses: %v", err)
		return addr.String()
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return (&net.TCPAddr{IP: ipnet.IP, Port: tcpAddr.Port}).String()
		}
	}
	return addr.String()
}
