package index

import (
	"context"
	"time"

	"p2pci/helper/timer"
	"p2pci/net/mpubsub"
	"p2pci/protocol"
	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

// Announcer periodically publishes the index address on the discovery group.
type Announcer struct {
	pubsub   *mpubsub.PubSub
	address  string
	interval *timer.Interval
}

func NewAnnouncer(pubsub *mpubsub.PubSub, address string, interval *timer.Interval) *Announcer {
	return &Announcer{pubsub: pubsub, address: address, interval: interval}
}

func (a *Announcer) Run(ctx context.Context) error {
	log.Infof("Announcing index %s every %v", a.address, a.interval.Duration)
	return timer.RunWithTicker(ctx, a.interval, a.announce)
}

// announce never fails the ticker, a lost datagram is retried on the next tick.
func (a *Announcer) announce(ctx context.Context) error {
	msg := &protocol.IndexAnnouncement{
		Address: a.address,
		Version: wire.Version,
		Time:    time.Now(),
	}
	if err := a.pubsub.Publish("Discovery.IndexAnnouncement", msg); err != nil {
		log.Errorf("Failed to publish index announcement: %v", err)
	}
	return nil
}
