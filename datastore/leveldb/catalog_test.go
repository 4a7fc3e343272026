package leveldb

import (
	"errors"
	"testing"
	"time"

	"p2pci/datamodel/document"
)

func openCatalog(t *testing.T, path string) *Catalog {
	t.Helper()
	c, err := NewCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCatalogPutAssignsSequence(t *testing.T) {
	c := openCatalog(t, t.TempDir())
	defer c.Close()

	now := time.Now().UTC().Truncate(time.Second)
	a, err := c.Put(&document.Metadata{Number: 123, Title: "Foo", Length: 4, UpdateTime: now})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Put(&document.Metadata{Number: 7, Title: "Bar", Length: 2, UpdateTime: now})
	if err != nil {
		t.Fatal(err)
	}
	if a.SequenceNumber != 1 || b.SequenceNumber != 2 || c.GetSeq() != 2 {
		t.Fatalf("sequences = %d, %d (current %d)", a.SequenceNumber, b.SequenceNumber, c.GetSeq())
	}

	// Unchanged metadata keeps its sequence number
	again, err := c.Put(&document.Metadata{Number: 123, Title: "Foo", Length: 4, UpdateTime: now})
	if err != nil {
		t.Fatal(err)
	}
	if again.SequenceNumber != 1 || c.GetSeq() != 2 {
		t.Fatalf("unchanged Put moved sequence to %d (current %d)", again.SequenceNumber, c.GetSeq())
	}

	got, err := c.Get(123)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Title != "Foo" || !got.Metadata.UpdateTime.Equal(now) {
		t.Fatalf("Get(123) = %+v", got.Metadata)
	}
	if _, err := c.Get(5); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Get(5) error = %v", err)
	}
}

func TestCatalogEnumerateBySeqListsEachDocumentOnce(t *testing.T) {
	c := openCatalog(t, t.TempDir())
	defer c.Close()

	c.Put(&document.Metadata{Number: 1, Title: "One"})
	c.Put(&document.Metadata{Number: 2, Title: "Two"})
	c.Put(&document.Metadata{Number: 1, Title: "One, revised"})

	entries, err := c.EnumerateBySeq(0, c.GetSeq()+1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("EnumerateBySeq returned %d entries", len(entries))
	}
	if entries[0].Metadata.Number != 2 || entries[1].Metadata.Title != "One, revised" {
		t.Fatalf("EnumerateBySeq order = %+v, %+v", entries[0].Metadata, entries[1].Metadata)
	}

	if _, err := c.EnumerateBySeq(5, 1); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestCatalogReopenKeepsSequence(t *testing.T) {
	path := t.TempDir()
	c := openCatalog(t, path)
	c.Put(&document.Metadata{Number: 1, Title: "One"})
	c.Put(&document.Metadata{Number: 2, Title: "Two"})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c = openCatalog(t, path)
	defer c.Close()
	if c.GetSeq() != 2 {
		t.Fatalf("GetSeq after reopen = %d", c.GetSeq())
	}
	md, err := c.Put(&document.Metadata{Number: 3, Title: "Three"})
	if err != nil {
		t.Fatal(err)
	}
	if md.SequenceNumber != 3 {
		t.Fatalf("sequence after reopen = %d", md.SequenceNumber)
	}
}

func TestCatalogOwners(t *testing.T) {
	c := openCatalog(t, t.TempDir())
	defer c.Close()

	if _, err := c.GetOwner(123); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("GetOwner before PutOwner: %v", err)
	}
	if err := c.PutOwner(&document.Owner{Number: 123, Host: "hostA", Port: 9000}); err != nil {
		t.Fatal(err)
	}
	if err := c.PutOwner(&document.Owner{Number: 123, Host: "hostB", Port: 9001}); err != nil {
		t.Fatal(err)
	}
	o, err := c.GetOwner(123)
	if err != nil {
		t.Fatal(err)
	}
	if o.Address() != "hostB:9001" {
		t.Fatalf("owner = %s", o.Address())
	}
}
