package leveldb

import (
	"errors"
	"fmt"

	"p2pci/datamodel/document"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"

	log "github.com/sirupsen/logrus"
)

func (l *Catalog) GetOwner(n int) (*document.Owner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromNumber(keyPrefixOwner, n), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("owner of RFC %d: %w", n, document.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	o := &document.Owner{}
	if err := cbor.Unmarshal(raw, o); err != nil {
		return nil, err
	}

	if o.Number != n {
		log.Errorf("GetOwner: document number mismatch: %d != %d", o.Number, n)
		return nil, ErrCorrupted
	}

	return o, nil
}

func (l *Catalog) PutOwner(o *document.Owner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(o)
	if err != nil {
		return err
	}
	return l.db.Put(keyFromNumber(keyPrefixOwner, o.Number), raw, nil)
}
