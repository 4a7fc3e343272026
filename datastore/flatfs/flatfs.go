// Package flatfs implements the document.DocumentStore interface on a plain directory
package flatfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"p2pci/datamodel/document"

	log "github.com/sirupsen/logrus"
)

// Do an indirection to make sure FlatFS implements the required interfaces
var _ document.DocumentStore = (*FlatFS)(nil)

// FlatFS keeps each document in basePath/RFC<number>.txt. The file holds the raw body, its
// modification time is the document's Last-Modified time.
type FlatFS struct {
	basePath string
}

func New(basePath string) (*FlatFS, error) {
	basePath = filepath.Clean(basePath)

	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened FlatFS at %s", basePath)

	return &FlatFS{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

func (f *FlatFS) path(n int) string {
	return filepath.Join(f.basePath, document.FileName(n))
}

// Enumerate lists the numbers of all documents in the directory. Files that don't follow the
// RFC<number>.txt naming are skipped with a warning.
func (f *FlatFS) Enumerate() ([]int, error) {
	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		log.Errorf("Error reading base path %s for enumeration: %v", f.basePath, err)
		return nil, err
	}

	var numbers []int
	for _, e := range entries {
		if e.IsDir() {
			log.Warnf("Skipping subdirectory in FlatFS during enumeration: %s", filepath.Join(f.basePath, e.Name()))
			continue
		}
		n, ok := document.ParseFileName(e.Name())
		if !ok {
			log.Warnf("Skipping file %s in FlatFS during enumeration, not a document", e.Name())
			continue
		}
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	return numbers, nil
}

func (f *FlatFS) Close() error {
	return nil
}

func (f *FlatFS) Get(n int) (*document.Document, error) {
	file, err := os.Open(f.path(n))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("RFC %d: %w", n, document.ErrNotFound)
		}
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("RFC %d: %w", n, document.ErrNotFound)
	}

	data := make([]byte, stat.Size())
	if _, err := file.ReadAt(data, 0); err != nil && stat.Size() > 0 {
		return nil, err
	}

	return &document.Document{
		Number:  n,
		Data:    data,
		ModTime: stat.ModTime(),
	}, nil
}

func (f *FlatFS) Has(n int) (bool, error) {
	stat, err := os.Stat(f.path(n))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !stat.IsDir(), nil
}

// Put writes the document through a temporary file so that readers never observe a partial body.
// A non-zero ModTime is applied to the file.
func (f *FlatFS) Put(d *document.Document) error {
	if d == nil {
		return os.ErrInvalid
	}

	tmp, err := os.CreateTemp(f.basePath, ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(d.Data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if !d.ModTime.IsZero() {
		if err := os.Chtimes(tmp.Name(), d.ModTime, d.ModTime); err != nil {
			return err
		}
	}

	return os.Rename(tmp.Name(), f.path(d.Number))
}

// Delete removes document n if it exists.
func (f *FlatFS) Delete(n int) error {
	err := os.Remove(f.path(n))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
