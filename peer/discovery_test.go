package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"p2pci/helper/timer"
	"p2pci/index"
	"p2pci/net/mpubsub"
)

func TestDiscoverIndex(t *testing.T) {
	rc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	wc, err := net.DialUDP("udp4", nil, rc.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer wc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	announcer := index.NewAnnouncer(mpubsub.New(nil, wc), "10.0.0.1:7734", &timer.Interval{Duration: 20 * time.Millisecond})
	go announcer.Run(ctx)

	addr, err := DiscoverIndex(ctx, mpubsub.New(rc, nil))
	if err != nil {
		t.Fatal(err)
	}
	if addr != "10.0.0.1:7734" {
		t.Fatalf("discovered %q", addr)
	}
}
