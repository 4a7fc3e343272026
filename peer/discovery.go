package peer

import (
	"context"
	"sync"

	"p2pci/net/mpubsub"
	"p2pci/protocol"
	"p2pci/wire"

	log "github.com/sirupsen/logrus"
)

// Discovery receives index announcements from the discovery group.
type Discovery struct {
	found chan *protocol.IndexAnnouncement
}

func (d *Discovery) IndexAnnouncement(msg *protocol.IndexAnnouncement) {
	select {
	case d.found <- msg:
	default:
	}
}

// DiscoverIndex waits for an index announcing the protocol version this agent speaks and returns
// its address.
func DiscoverIndex(ctx context.Context, ps *mpubsub.PubSub) (string, error) {
	d := &Discovery{found: make(chan *protocol.IndexAnnouncement, 1)}
	if err := ps.Register(d); err != nil {
		return "", err
	}

	lctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ps.Listen(lctx)
	}()
	defer wg.Wait()
	defer cancel()

	log.Infof("Waiting for an index announcement")
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ann := <-d.found:
			if ann.Version != wire.Version {
				log.Debugf("Ignoring index %s speaking %s", ann.Address, ann.Version)
				continue
			}
			log.Infof("Discovered index at %s", ann.Address)
			return ann.Address, nil
		}
	}
}
