// Package protocol defines the CBOR messages exchanged over the admin RPC endpoint and the discovery
// multicast group. The P2P-CI text protocol itself lives in package wire.
package protocol

import "time"

// IndexAnnouncement is published by the index server on the discovery group.
type IndexAnnouncement struct {
	Address string    `cbor:"1,keyasint,omitempty"` // Index address as peers should dial it
	Version string    `cbor:"2,keyasint,omitempty"` // Text protocol version spoken on Address
	Time    time.Time `cbor:"3,keyasint,omitempty"`
}

type PeerEntry struct {
	Host   string `cbor:"1,keyasint,omitempty"`
	Port   int    `cbor:"2,keyasint,omitempty"`
	ConnID uint64 `cbor:"3,keyasint,omitempty"`
}

type DocumentEntry struct {
	Number int    `cbor:"1,keyasint"`
	Title  string `cbor:"2,keyasint,omitempty"`
	Host   string `cbor:"3,keyasint,omitempty"`
	Port   int    `cbor:"4,keyasint,omitempty"`
}

type SnapshotRequest struct {
	Host string `cbor:"1,keyasint,omitempty"` // Restrict documents to this host when set
}

// SnapshotResponse lists both registries in insertion order.
type SnapshotResponse struct {
	Peers     []PeerEntry     `cbor:"1,keyasint,omitempty"`
	Documents []DocumentEntry `cbor:"2,keyasint,omitempty"`
	Uptime    time.Duration   `cbor:"3,keyasint,omitempty"`
}
