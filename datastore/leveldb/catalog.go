package leveldb

import (
	"errors"
	"fmt"

	"p2pci/datamodel/document"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixNum   = "NUM" // Document metadata indexed by number. Followed by a 16-digit hexadecimal number
	keyPrefixSeq   = "SEQ" // Document metadata indexed by local sequence number. Followed by a 16-digit hexadecimal sequence number
	keyPrefixOwner = "OWN" // Last discovered owner indexed by document number
)

var _ document.Catalog = (*Catalog)(nil)

type Catalog struct {
	levelDB
	seq uint64
}

func NewCatalog(path string) (*Catalog, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Scan the database to identify the sequence
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	var maxSeq uint64
	if iter.Last() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		maxSeq = seq
	}

	return &Catalog{
		levelDB: levelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

func (l *Catalog) Get(n int) (*document.MetadataWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(n)
}

func (l *Catalog) get(n int) (*document.MetadataWithSeq, error) {
	raw, err := l.db.Get(keyFromNumber(keyPrefixNum, n), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("RFC %d: %w", n, document.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	md := &document.MetadataWithSeq{}
	if err := cbor.Unmarshal(raw, md); err != nil {
		return nil, err
	}

	// Compare the number just in case
	if md.Metadata == nil || md.Metadata.Number != n {
		log.Errorf("Get: document number mismatch for RFC %d", n)
		return nil, ErrCorrupted
	}

	return md, nil
}

// Put records metadata under a new sequence number. Unchanged metadata keeps its existing sequence
// number.
func (l *Catalog) Put(metadata *document.Metadata) (*document.MetadataWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.get(metadata.Number)
	if err != nil && !errors.Is(err, document.ErrNotFound) {
		return nil, err
	}
	if existing != nil && document.IsMetadataEqual(existing.Metadata, metadata) {
		log.Debugf("Put: metadata for RFC %d is unchanged, skipping update", metadata.Number)
		return existing, nil
	}

	newSeq := l.seq + 1
	md := &document.MetadataWithSeq{
		SequenceNumber: newSeq,
		Metadata:       metadata,
	}

	raw, err := cbor.Marshal(md)
	if err != nil {
		return nil, err
	}

	// Number -> Metadata and Seq -> Metadata change together. The superseded sequence entry goes away
	// so that EnumerateBySeq lists every document once.
	batch := new(leveldb.Batch)
	batch.Put(keyFromNumber(keyPrefixNum, metadata.Number), raw)
	batch.Put(keyFromSeq(newSeq), raw)
	if existing != nil {
		batch.Delete(keyFromSeq(existing.SequenceNumber))
	}

	if err := l.db.Write(batch, nil); err != nil {
		return nil, err
	}

	l.seq = newSeq

	return md, nil
}

// EnumerateBySeq returns the entries with start <= sequence < end in sequence order.
func (l *Catalog) EnumerateBySeq(start uint64, end uint64) ([]*document.MetadataWithSeq, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if start > end {
		return nil, fmt.Errorf("EnumerateBySeq: invalid range: start (%d) > end (%d)", start, end)
	}

	var results []*document.MetadataWithSeq

	iter := l.db.NewIterator(&util.Range{Start: keyFromSeq(start), Limit: keyFromSeq(end)}, nil)
	defer iter.Release()

	for iter.Next() {
		md := &document.MetadataWithSeq{}
		if err := cbor.Unmarshal(iter.Value(), md); err != nil {
			return nil, err
		}
		results = append(results, md)
	}

	return results, iter.Error()
}

func (l *Catalog) GetSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
