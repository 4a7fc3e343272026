package document

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("document not found")

// Document is a locally held document body. The number is the document's only identity.
type Document struct {
	Number  int
	Data    []byte
	ModTime time.Time // Last-Modified as served to other peers
}

// Metadata describes a catalogued document.
type Metadata struct {
	Number     int       `cbor:"1,keyasint"`
	Title      string    `cbor:"2,keyasint,omitempty"`
	Length     uint64    `cbor:"3,keyasint,omitempty"`
	UpdateTime time.Time `cbor:"4,keyasint,omitempty"`
}

type MetadataWithSeq struct {
	SequenceNumber uint64    `cbor:"1,keyasint"`
	Metadata       *Metadata `cbor:"2,keyasint"`
}

// Owner is the last known holder of a document as reported by the index.
type Owner struct {
	Number   int       `cbor:"1,keyasint"`
	Host     string    `cbor:"2,keyasint,omitempty"`
	Port     int       `cbor:"3,keyasint,omitempty"`
	LastSeen time.Time `cbor:"4,keyasint,omitempty"`
}

// Address returns the owner's transfer address.
func (o *Owner) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// DocumentStore holds document bodies.
type DocumentStore interface {
	// Get returns the document numbered n, or an error wrapping ErrNotFound.
	Get(n int) (*Document, error)

	Has(n int) (bool, error)

	// Put stores the body, replacing any previous one.
	Put(*Document) error

	// Enumerate returns the numbers of all stored documents in ascending order.
	Enumerate() ([]int, error)

	// Delete removes document n. Deleting a missing document is not an error.
	Delete(n int) error

	Close() error
}

// Catalog maps document numbers to titles. Every change is assigned a new local sequence number, so
// enumerating by sequence yields documents in the order they were published.
type Catalog interface {
	Get(n int) (*MetadataWithSeq, error)
	Put(*Metadata) (*MetadataWithSeq, error)
	EnumerateBySeq(start, end uint64) ([]*MetadataWithSeq, error)
	GetSeq() uint64

	// PutOwner and GetOwner track the last discovered owner per document.
	PutOwner(*Owner) error
	GetOwner(n int) (*Owner, error)

	Close() error
}

// IsMetadataEqual compares times by instant, so metadata read back from storage compares equal to
// what was written.
func IsMetadataEqual(a *Metadata, b *Metadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Number == b.Number && a.Title == b.Title && a.Length == b.Length && a.UpdateTime.Equal(b.UpdateTime)
}

// FileName is the on-disk name of document n.
func FileName(n int) string {
	return "RFC" + strconv.Itoa(n) + ".txt"
}

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (int, bool) {
	s, ok := strings.CutPrefix(name, "RFC")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".txt")
	if !ok || s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}
