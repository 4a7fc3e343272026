package commands

import (
	"net"

	"p2pci/config"
	"p2pci/net/mpubsub"
)

// openDiscovery joins the discovery multicast group. listen and publish select which directions are
// opened.
func openDiscovery(cfg *config.Config, listen, publish bool) (*mpubsub.PubSub, func(), error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.Discovery.Group)
	if err != nil {
		return nil, nil, err
	}

	var rc, wc *net.UDPConn
	closeAll := func() {
		if rc != nil {
			rc.Close()
		}
		if wc != nil {
			wc.Close()
		}
	}

	if listen {
		if rc, err = net.ListenMulticastUDP("udp4", nil, addr); err != nil {
			return nil, nil, err
		}
	}
	if publish {
		if wc, err = net.DialUDP("udp4", nil, addr); err != nil {
			closeAll()
			return nil, nil, err
		}
	}

	return mpubsub.New(rc, wc), closeAll, nil
}
