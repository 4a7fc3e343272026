package peer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"p2pci/datamodel/document"
	"p2pci/datastore/flatfs"
	"p2pci/datastore/leveldb"
	"p2pci/index"
	"p2pci/wire"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func startIndex(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := index.NewServer(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l.Addr().String()
}

func openStores(t *testing.T) (*flatfs.FlatFS, *leveldb.Catalog) {
	t.Helper()
	store, err := flatfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := leveldb.NewCatalog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { catalog.Close() })
	return store, catalog
}

// startAgent runs an agent until the returned stop function is called.
func startAgent(t *testing.T, indexAddr, host string, store document.DocumentStore, catalog document.Catalog) (*Agent, func()) {
	t.Helper()

	a, err := New(Config{
		IndexAddress: indexAddr,
		Host:         host,
		ListenHost:   "127.0.0.1",
		Timeout:      5 * time.Second,
	}, store, catalog)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return a, stop
}

// waitForOwners polls LOOKUP until the set of owner hosts of n matches want.
func waitForOwners(t *testing.T, c *IndexClient, n int, want ...string) []wire.Record {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		recs, err := c.Lookup(context.Background(), n)
		var se *StatusError
		if err != nil && !(errors.As(err, &se) && se.Status == wire.StatusNotFound) {
			t.Fatal(err)
		}
		if len(recs) == len(want) {
			match := true
			for i := range recs {
				if recs[i].Host != want[i] {
					match = false
				}
			}
			if match {
				return recs
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("owners of RFC %d = %+v, want %v", n, recs, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFetchFromOwnerThenOwnerLeaves(t *testing.T) {
	indexAddr := startIndex(t)

	body := []byte("Network Working Group\r\nRequest for Comments: 123\r\n")
	storeA, catalogA := openStores(t)
	if err := storeA.Put(&document.Document{Number: 123, Data: body}); err != nil {
		t.Fatal(err)
	}
	if _, err := catalogA.Put(&document.Metadata{Number: 123, Title: "Foo", Length: uint64(len(body))}); err != nil {
		t.Fatal(err)
	}
	// Catalogued but missing documents are not published
	catalogA.Put(&document.Metadata{Number: 5, Title: "Lost"})

	a, stopA := startAgent(t, indexAddr, "localhost", storeA, catalogA)

	storeB, catalogB := openStores(t)
	b, _ := startAgent(t, indexAddr, "127.0.0.1", storeB, catalogB)

	recs := waitForOwners(t, b.Index(), 123, "localhost")
	want := wire.Record{Number: 123, Title: "Foo", Host: "localhost", Port: a.transfer.Port()}
	if recs[0] != want {
		t.Fatalf("LOOKUP = %+v, want %+v", recs[0], want)
	}

	doc, err := b.Fetch(context.Background(), 123)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(doc.Data, body) {
		t.Fatalf("fetched body %q", doc.Data)
	}
	if owner := b.LastOwner(); owner == nil || owner.Host != "localhost" || owner.Port != a.transfer.Port() {
		t.Fatalf("LastOwner = %+v", owner)
	}
	if o, err := catalogB.GetOwner(123); err != nil || o.Host != "localhost" {
		t.Fatalf("recorded owner = %+v, %v", o, err)
	}
	if md, err := catalogB.Get(123); err != nil || md.Metadata.Title != "Foo" {
		t.Fatalf("catalogued = %+v, %v", md, err)
	}
	stored, err := storeB.Get(123)
	if err != nil || !bytes.Equal(stored.Data, body) {
		t.Fatalf("stored = %+v, %v", stored, err)
	}

	// B now serves the document too
	waitForOwners(t, b.Index(), 123, "localhost", "127.0.0.1")
	if _, err := b.Index().Lookup(context.Background(), 5); err == nil {
		t.Fatal("missing document was published")
	}

	stopA()
	waitForOwners(t, b.Index(), 123, "127.0.0.1")

	// A second fetch is served from the local store
	if _, err := b.Fetch(context.Background(), 123); err != nil {
		t.Fatal(err)
	}
}

func TestFetchUnknownDocument(t *testing.T) {
	indexAddr := startIndex(t)
	store, catalog := openStores(t)
	a, _ := startAgent(t, indexAddr, "localhost", store, catalog)

	if _, err := a.Fetch(context.Background(), 999); !errors.Is(err, ErrNoOwner) {
		t.Fatalf("Fetch(999) error = %v, want ErrNoOwner", err)
	}
}

func TestStartFailsWithoutIndex(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	store, catalog := openStores(t)
	a, err := New(Config{IndexAddress: addr, Host: "localhost", ListenHost: "127.0.0.1", Timeout: time.Second}, store, catalog)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without an index")
	}
}

func TestPublishAllWarnsAboutUncataloguedFiles(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(func() { log.StandardLogger().ReplaceHooks(make(log.LevelHooks)) })

	indexAddr := startIndex(t)
	store, catalog := openStores(t)
	for _, n := range []int{7, 123} {
		if err := store.Put(&document.Document{Number: n, Data: []byte("text")}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := catalog.Put(&document.Metadata{Number: 123, Title: "Foo", Length: 4}); err != nil {
		t.Fatal(err)
	}

	a, _ := startAgent(t, indexAddr, "localhost", store, catalog)
	waitForOwners(t, a.Index(), 123, "localhost")

	deadline := time.Now().Add(5 * time.Second)
	for {
		warned := false
		for _, e := range hook.AllEntries() {
			if e.Level == log.WarnLevel && strings.Contains(e.Message, "RFC 7 is stored but has no catalog entry") {
				warned = true
			}
		}
		if warned {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no warning about uncatalogued RFC 7")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var se *StatusError
	if _, err := a.Index().Lookup(context.Background(), 7); !errors.As(err, &se) || se.Status != wire.StatusNotFound {
		t.Fatalf("LOOKUP 7 error = %v, want 404", err)
	}
}

// brokenCatalog fails every Put.
type brokenCatalog struct {
	*leveldb.Catalog
}

func (brokenCatalog) Put(*document.Metadata) (*document.MetadataWithSeq, error) {
	return nil, errors.New("catalog unavailable")
}

func TestFetchRemovesBodyWhenCatalogFails(t *testing.T) {
	indexAddr := startIndex(t)

	storeA, catalogA := openStores(t)
	if err := storeA.Put(&document.Document{Number: 123, Data: []byte("body")}); err != nil {
		t.Fatal(err)
	}
	if _, err := catalogA.Put(&document.Metadata{Number: 123, Title: "Foo", Length: 4}); err != nil {
		t.Fatal(err)
	}
	startAgent(t, indexAddr, "localhost", storeA, catalogA)

	storeB, catalogB := openStores(t)
	b, _ := startAgent(t, indexAddr, "127.0.0.1", storeB, brokenCatalog{catalogB})
	waitForOwners(t, b.Index(), 123, "localhost")

	if _, err := b.Fetch(context.Background(), 123); err == nil {
		t.Fatal("Fetch succeeded with a failing catalog")
	}
	if ok, err := storeB.Has(123); err != nil || ok {
		t.Fatalf("body left in store after failed cataloguing: %v, %v", ok, err)
	}
	waitForOwners(t, b.Index(), 123, "localhost")
}
