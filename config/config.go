package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config represents the configuration shared by the index server and the peer agent
type Config struct {
	// Default config file location
	configFile string

	Index struct {
		ListenAddress    string   `json:"listen"`
		AdminAddress     string   `json:"admin"` // Admin RPC, disabled when empty
		WakeInterval     Duration `json:"wake_interval"`
		WriteTimeout     Duration `json:"write_timeout"`
		HandshakeTimeout Duration `json:"handshake_timeout"` // Zero disables it
	} `json:"index"`

	Peer struct {
		IndexAddress string   `json:"index"`    // Discovered over multicast when empty
		Hostname     string   `json:"hostname"` // os.Hostname() when empty
		ListenHost   string   `json:"listen_host"`
		FirstPort    int      `json:"first_port"`
		PortLimit    int      `json:"port_limit"`
		MaxTransfers int64    `json:"max_transfers"`
		Timeout      Duration `json:"timeout"`
		Fetch        []int    `json:"fetch"`
	} `json:"peer"`

	DataStore struct {
		DocumentPath string `json:"documents"`
		CatalogPath  string `json:"catalog"`
	} `json:"datastore"`

	Discovery struct {
		Enabled  bool     `json:"enabled"`
		Group    string   `json:"group"`
		Interval Duration `json:"interval"`
		Jitter   Duration `json:"jitter"`
	} `json:"discovery"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Index.ListenAddress = ":7734"
	cfg.Index.AdminAddress = "127.0.0.1:7733"
	cfg.Index.WakeInterval = Duration{30 * time.Second}
	cfg.Index.WriteTimeout = Duration{5 * time.Second}
	cfg.Index.HandshakeTimeout = Duration{10 * time.Second}

	cfg.Peer.IndexAddress = "localhost:7734"
	cfg.Peer.FirstPort = 7735
	cfg.Peer.PortLimit = 8500
	cfg.Peer.MaxTransfers = 16
	cfg.Peer.Timeout = Duration{30 * time.Second}

	cfg.DataStore.DocumentPath = "/tmp/p2pci/documents"
	cfg.DataStore.CatalogPath = "/tmp/p2pci/catalog"

	cfg.Discovery.Enabled = false
	cfg.Discovery.Group = "224.0.0.1:7736"
	cfg.Discovery.Interval = Duration{5 * time.Second}
	cfg.Discovery.Jitter = Duration{time.Second}

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Path() string {
	return c.configFile
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load overlays the file on top of the current values, so keys missing from the file keep their
// defaults.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", c.configFile, err)
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	if c.Peer.FirstPort < 0 || c.Peer.PortLimit > 65536 || (c.Peer.FirstPort > 0 && c.Peer.FirstPort >= c.Peer.PortLimit) {
		return fmt.Errorf("invalid transfer port range [%d, %d)", c.Peer.FirstPort, c.Peer.PortLimit)
	}
	if c.Discovery.Enabled && (c.Discovery.Jitter.Duration < 0 || c.Discovery.Jitter.Duration >= c.Discovery.Interval.Duration) {
		return fmt.Errorf("discovery jitter %v must be below the interval %v", c.Discovery.Jitter, c.Discovery.Interval)
	}
	return nil
}
