// Package peer implements the P2P-CI peer agent: a transfer server for local documents, a session
// with the index server, and a transfer client fetching documents from other peers.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"p2pci/datamodel/document"
	"p2pci/wire"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// ErrNoOwner is returned by Fetch when the index lists no other peer holding the document.
var ErrNoOwner = errors.New("no peer offers the document")

type Config struct {
	IndexAddress string // host:port of the index server
	Host         string // Name registered with the index; os.Hostname() when empty
	ListenHost   string // Interface the transfer server binds to; all when empty
	FirstPort    int    // First transfer port probed; 0 picks an ephemeral port
	PortLimit    int    // Probing stops before this port
	MaxTransfers int64
	Fetch        []int // Documents to download once registered
	Timeout      time.Duration
}

type Agent struct {
	cfg     Config
	store   document.DocumentStore
	catalog document.Catalog
	osName  string

	transfer *TransferServer
	index    *IndexClient

	sg        singleflight.Group
	mu        sync.Mutex
	lastOwner *document.Owner
}

func New(cfg Config, store document.DocumentStore, catalog document.Catalog) (*Agent, error) {
	if cfg.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		cfg.Host = host
	}
	if cfg.PortLimit == 0 {
		cfg.PortLimit = MaxTransferPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultIOTimeout
	}

	return &Agent{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		osName:  OSName(),
	}, nil
}

// Start binds the transfer server and registers with the index. The agent is usable once Start
// returns; Run then serves until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	l, err := ListenTransfer(a.cfg.ListenHost, a.cfg.FirstPort, a.cfg.PortLimit)
	if err != nil {
		return fmt.Errorf("binding transfer server: %w", err)
	}
	a.transfer = NewTransferServer(l, a.store, a.cfg.MaxTransfers)
	a.transfer.IOTimeout = a.cfg.Timeout

	dctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	idx, err := DialIndex(dctx, a.cfg.IndexAddress, a.cfg.Host, a.transfer.Port())
	if err != nil {
		l.Close()
		return err
	}
	a.index = idx
	return nil
}

// Run publishes the local catalog, downloads the configured documents and keeps serving transfers
// until ctx is cancelled. Leaving closes the index session, which withdraws this peer's records.
func (a *Agent) Run(ctx context.Context) error {
	if a.index == nil {
		if err := a.Start(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.transfer.Serve(ctx)
	})

	g.Go(func() error {
		defer a.index.Close()

		if err := a.PublishAll(ctx); err != nil {
			return err
		}
		for _, n := range a.cfg.Fetch {
			if _, err := a.Fetch(ctx, n); err != nil {
				log.Errorf("Fetching RFC %d: %v", n, err)
			}
		}

		<-ctx.Done()
		log.Infof("Leaving the index")
		return ctx.Err()
	})

	return g.Wait()
}

func (a *Agent) Host() string {
	return a.cfg.Host
}

func (a *Agent) TransferAddr() net.Addr {
	return a.transfer.Addr()
}

func (a *Agent) Index() *IndexClient {
	return a.index
}

// LastOwner returns the owner picked by the most recent successful lookup.
func (a *Agent) LastOwner() *document.Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastOwner
}

// PublishAll announces every catalogued document that is present in the store, in publication order.
func (a *Agent) PublishAll(ctx context.Context) error {
	entries, err := a.catalog.EnumerateBySeq(0, a.catalog.GetSeq()+1)
	if err != nil {
		return fmt.Errorf("enumerating catalog: %w", err)
	}

	catalogued := make(map[int]bool, len(entries))
	published := 0
	for _, e := range entries {
		md := e.Metadata
		catalogued[md.Number] = true
		if ok, err := a.store.Has(md.Number); err != nil || !ok {
			log.Warnf("RFC %d is catalogued but missing from the store, not publishing", md.Number)
			continue
		}
		if err := a.add(ctx, md.Number, md.Title); err != nil {
			return err
		}
		published++
	}

	stored, err := a.store.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating store: %w", err)
	}
	for _, n := range stored {
		if !catalogued[n] {
			log.Warnf("RFC %d is stored but has no catalog entry, not publishing", n)
		}
	}

	log.Infof("Published %d documents", published)
	return nil
}

func (a *Agent) add(ctx context.Context, n int, title string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	rec, err := a.index.Add(ctx, n, title)
	if err != nil {
		return fmt.Errorf("adding RFC %d: %w", n, err)
	}
	log.Debugf("Index accepted %s", rec)
	return nil
}

// Fetch makes document n available locally: it looks up an owner, downloads the body, stores it and
// announces this peer as an additional owner. Concurrent calls for the same document share one
// download.
func (a *Agent) Fetch(ctx context.Context, n int) (*document.Document, error) {
	v, err, _ := a.sg.Do(strconv.Itoa(n), func() (any, error) {
		if doc, err := a.store.Get(n); err == nil {
			return doc, nil
		}

		owner, title, err := a.lookupOwner(ctx, n)
		if err != nil {
			return nil, err
		}

		gctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()

		log.Infof("Downloading RFC %d from %s", n, owner.Address())
		doc, err := Get(gctx, owner.Address(), n, a.cfg.Host, a.osName)
		if err != nil {
			return nil, fmt.Errorf("downloading RFC %d from %s: %w", n, owner.Address(), err)
		}
		if doc.ModTime.IsZero() {
			doc.ModTime = time.Now()
		}

		if err := a.store.Put(doc); err != nil {
			return nil, fmt.Errorf("storing RFC %d: %w", n, err)
		}
		if _, err := a.catalog.Put(&document.Metadata{
			Number:     n,
			Title:      title,
			Length:     uint64(len(doc.Data)),
			UpdateTime: doc.ModTime,
		}); err != nil {
			if derr := a.store.Delete(n); derr != nil {
				log.Errorf("Removing uncatalogued RFC %d: %v", n, derr)
			}
			return nil, fmt.Errorf("cataloguing RFC %d: %w", n, err)
		}

		if err := a.add(ctx, n, title); err != nil {
			return nil, err
		}
		log.Infof("RFC %d %q downloaded (%d bytes)", n, title, len(doc.Data))
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document.Document), nil
}

// lookupOwner asks the index for document n and picks the last listed peer other than this one.
func (a *Agent) lookupOwner(ctx context.Context, n int) (*document.Owner, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	recs, err := a.index.Lookup(ctx, n)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == wire.StatusNotFound {
			return nil, "", fmt.Errorf("RFC %d: %w", n, ErrNoOwner)
		}
		return nil, "", fmt.Errorf("looking up RFC %d: %w", n, err)
	}

	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.Host == a.cfg.Host && rec.Port == a.transfer.Port() {
			continue
		}

		owner := &document.Owner{Number: n, Host: rec.Host, Port: rec.Port, LastSeen: time.Now()}
		a.mu.Lock()
		a.lastOwner = owner
		a.mu.Unlock()
		if err := a.catalog.PutOwner(owner); err != nil {
			log.Warnf("Recording owner of RFC %d: %v", n, err)
		}
		return owner, rec.Title, nil
	}
	return nil, "", fmt.Errorf("RFC %d: %w", n, ErrNoOwner)
}
