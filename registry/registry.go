// Package registry holds the index server's view of the network: the peers that are currently
// registered and the documents each of them offers.
//
// A Registry is not safe for concurrent use. The index server confines it to its event loop.
package registry

import "p2pci/wire"

// Peer is a registered participant. ConnID identifies the index connection it registered on.
type Peer struct {
	Host   string
	Port   int
	ConnID uint64
}

// DocumentRecord links a document number and title to the peer offering it.
type DocumentRecord struct {
	Number int
	Title  string
	Host   string
	Port   int
}

func (d DocumentRecord) Wire() wire.Record {
	return wire.Record{Number: d.Number, Title: d.Title, Host: d.Host, Port: d.Port}
}

// Peers is an insertion-ordered list of peers.
type Peers struct {
	items []*Peer
}

func (p *Peers) Insert(peer *Peer) {
	p.items = append(p.items, peer)
}

func (p *Peers) FindByHost(host string) *Peer {
	for _, peer := range p.items {
		if peer.Host == host {
			return peer
		}
	}
	return nil
}

// DeleteByConnID removes the peer registered on index connection id.
func (p *Peers) DeleteByConnID(id uint64) bool {
	for i, peer := range p.items {
		if peer.ConnID == id {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Peers) All() []Peer {
	out := make([]Peer, 0, len(p.items))
	for _, peer := range p.items {
		out = append(out, *peer)
	}
	return out
}

func (p *Peers) Len() int {
	return len(p.items)
}

// Documents is an insertion-ordered list of document records. Several records may share a number.
type Documents struct {
	items []DocumentRecord
}

func (d *Documents) Insert(rec DocumentRecord) {
	d.items = append(d.items, rec)
}

// FindByNumber returns every record for number n in insertion order.
func (d *Documents) FindByNumber(n int) []DocumentRecord {
	var out []DocumentRecord
	for _, rec := range d.items {
		if rec.Number == n {
			out = append(out, rec)
		}
	}
	return out
}

func (d *Documents) FindAllByHost(host string) []DocumentRecord {
	var out []DocumentRecord
	for _, rec := range d.items {
		if rec.Host == host {
			out = append(out, rec)
		}
	}
	return out
}

// DeleteAllByHost drops every record owned by host and returns how many were removed. The relative
// order of the remaining records is kept.
func (d *Documents) DeleteAllByHost(host string) int {
	kept := d.items[:0]
	for _, rec := range d.items {
		if rec.Host != host {
			kept = append(kept, rec)
		}
	}
	removed := len(d.items) - len(kept)
	clear(d.items[len(kept):])
	d.items = kept
	return removed
}

func (d *Documents) All() []DocumentRecord {
	out := make([]DocumentRecord, len(d.items))
	copy(out, d.items)
	return out
}

func (d *Documents) Len() int {
	return len(d.items)
}

// Registry pairs the peer list with the document index so that departures purge both in one step.
type Registry struct {
	Peers     Peers
	Documents Documents
}

func New() *Registry {
	return &Registry{}
}

// Remove drops the peer registered on connection id and purges every document owned by host.
// found reports whether such a peer existed; documents are purged either way.
func (r *Registry) Remove(id uint64, host string) (found bool, purged int) {
	purged = r.Documents.DeleteAllByHost(host)
	found = r.Peers.DeleteByConnID(id)
	return found, purged
}
