package commands

import (
	"context"
	"os"

	"p2pci/config"

	log "github.com/sirupsen/logrus"
)

func RunInit(ctx context.Context, cfg *config.Config, force bool) {
	if _, err := os.Stat(cfg.Path()); err == nil && !force {
		log.Fatalf("Config %s already exists, use -force to overwrite it", cfg.Path())
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
}
