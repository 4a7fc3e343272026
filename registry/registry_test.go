package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeersInsertFindDelete(t *testing.T) {
	var p Peers
	p.Insert(&Peer{Host: "a", Port: 1, ConnID: 1})
	p.Insert(&Peer{Host: "b", Port: 2, ConnID: 2})

	got := p.FindByHost("b")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Port)
	assert.Nil(t, p.FindByHost("c"))

	assert.True(t, p.DeleteByConnID(1))
	assert.False(t, p.DeleteByConnID(1), "deleted twice")
	assert.Equal(t, []Peer{{Host: "b", Port: 2, ConnID: 2}}, p.All())
}

func TestDocumentsFindByNumberReturnsAllMatches(t *testing.T) {
	var d Documents
	d.Insert(DocumentRecord{Number: 1, Title: "one", Host: "a", Port: 1})
	d.Insert(DocumentRecord{Number: 2, Title: "two", Host: "a", Port: 1})
	d.Insert(DocumentRecord{Number: 1, Title: "one", Host: "b", Port: 2})

	got := d.FindByNumber(1)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Host)
	assert.Equal(t, "b", got[1].Host)
	assert.Empty(t, d.FindByNumber(3))
	assert.Len(t, d.FindAllByHost("a"), 2)
}

func TestDeleteAllByHostKeepsOrder(t *testing.T) {
	var d Documents
	for i, host := range []string{"a", "b", "a", "c", "b", "a"} {
		d.Insert(DocumentRecord{Number: i, Host: host})
	}

	require.Equal(t, 3, d.DeleteAllByHost("a"))

	var numbers []int
	for _, rec := range d.All() {
		assert.NotEqual(t, "a", rec.Host)
		numbers = append(numbers, rec.Number)
	}
	assert.Equal(t, []int{1, 3, 4}, numbers)
	assert.Equal(t, 3, d.Len())
}

func TestRegistryRemovePurgesPeerAndDocuments(t *testing.T) {
	r := New()
	r.Peers.Insert(&Peer{Host: "a", Port: 9000, ConnID: 1})
	r.Peers.Insert(&Peer{Host: "b", Port: 9001, ConnID: 2})
	r.Documents.Insert(DocumentRecord{Number: 123, Title: "Foo", Host: "a", Port: 9000})
	r.Documents.Insert(DocumentRecord{Number: 123, Title: "Foo", Host: "b", Port: 9001})

	found, purged := r.Remove(1, "a")
	require.True(t, found)
	require.Equal(t, 1, purged)
	assert.Nil(t, r.Peers.FindByHost("a"))
	assert.Empty(t, r.Documents.FindAllByHost("a"))
	assert.Equal(t, []DocumentRecord{{Number: 123, Title: "Foo", Host: "b", Port: 9001}}, r.Documents.FindByNumber(123))

	// A departure without a registered peer is reported, not fatal
	found, purged = r.Remove(1, "a")
	assert.False(t, found)
	assert.Zero(t, purged)
}

func TestRegistryRemoveKeepsOtherConnectionOfSameHost(t *testing.T) {
	r := New()
	r.Peers.Insert(&Peer{Host: "a", Port: 9000, ConnID: 1})
	r.Peers.Insert(&Peer{Host: "a", Port: 9001, ConnID: 2})

	found, _ := r.Remove(2, "a")
	require.True(t, found)
	assert.Equal(t, []Peer{{Host: "a", Port: 9000, ConnID: 1}}, r.Peers.All())
}
