package commands

import (
	"context"
	"os"
	"time"

	"p2pci/config"
	"p2pci/datamodel/document"
	"p2pci/datastore/flatfs"
	"p2pci/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunPublish imports a file into the local store and catalog. A running agent announces it to the
// index the next time it starts.
func RunPublish(ctx context.Context, cfg *config.Config, number int, title, file string) {
	if number < 0 || title == "" || file == "" {
		log.Fatal("publish requires -number, -title and -file")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", file, err)
	}
	modTime := time.Now()
	if stat, err := os.Stat(file); err == nil {
		modTime = stat.ModTime()
	}

	store, err := flatfs.New(cfg.DataStore.DocumentPath)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer store.Close()

	catalog, err := leveldb.NewCatalog(cfg.DataStore.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer catalog.Close()

	if err := store.Put(&document.Document{Number: number, Data: data, ModTime: modTime}); err != nil {
		log.Fatalf("Failed to store RFC %d: %v", number, err)
	}
	md, err := catalog.Put(&document.Metadata{
		Number:     number,
		Title:      title,
		Length:     uint64(len(data)),
		UpdateTime: modTime,
	})
	if err != nil {
		log.Fatalf("Failed to catalog RFC %d: %v", number, err)
	}

	log.Infof("Published RFC %d %q (%d bytes), seq: %d", number, title, len(data), md.SequenceNumber)
}
