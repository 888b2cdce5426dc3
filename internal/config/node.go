package config

import (
	"time"

	"github.com/spf13/cobra"
)

// NodeConfig configures a single mesh node process.
type NodeConfig struct {
	NodeID         string        `mapstructure:"node_id"`
	BindAddr       string        `mapstructure:"bind_addr"`
	HTTPPort       int           `mapstructure:"http_port"`
	GossipPort     int           `mapstructure:"gossip_port"`
	Peers          []string      `mapstructure:"peers"`
	LogPath        string        `mapstructure:"log_path"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	GossipJitter   float64       `mapstructure:"gossip_jitter"`
}

// DefaultNodeConfig returns the baseline a node starts from before the
// file/env/flag layers are applied.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		NodeID:         "node-1",
		BindAddr:       "0.0.0.0",
		HTTPPort:       8080,
		GossipPort:     9000,
		Peers:          nil,
		LogPath:        "/data/logs/node-1.log",
		GossipInterval: 5 * time.Second,
		GossipJitter:   0.10,
	}
}

// BindNodeFlags registers the CLI flags for the "start" node command.
func BindNodeFlags(cmd *cobra.Command) {
	def := DefaultNodeConfig()
	cmd.Flags().String("config", "", "path to a YAML config file")
	cmd.Flags().String("node-id", def.NodeID, "unique node identifier")
	cmd.Flags().String("bind-addr", def.BindAddr, "address to bind HTTP and gossip sockets to")
	cmd.Flags().Int("http-port", def.HTTPPort, "IntakeService HTTP port")
	cmd.Flags().Int("gossip-port", def.GossipPort, "GossipService UDP port")
	cmd.Flags().StringSlice("peers", nil, "host:port of every gossip peer")
	cmd.Flags().String("log-path", def.LogPath, "path to this node's hash-chain log file")
	cmd.Flags().Duration("gossip-interval", def.GossipInterval, "T_gossip broadcast interval")
	cmd.Flags().Float64("gossip-jitter", def.GossipJitter, "fractional jitter applied to T_gossip")
}

// LoadNodeConfig resolves a NodeConfig from cmd's flags, layering in an
// optional --config file and EDGEMESH_-prefixed environment variables.
func LoadNodeConfig(cmd *cobra.Command) (NodeConfig, error) {
	v, err := newViper(cmd, "config")
	if err != nil {
		return NodeConfig{}, err
	}

	cfg := DefaultNodeConfig()
	cfg.NodeID = v.GetString("node-id")
	cfg.BindAddr = v.GetString("bind-addr")
	cfg.HTTPPort = v.GetInt("http-port")
	cfg.GossipPort = v.GetInt("gossip-port")
	cfg.LogPath = v.GetString("log-path")
	cfg.GossipInterval = v.GetDuration("gossip-interval")
	cfg.GossipJitter = v.GetFloat64("gossip-jitter")
	if peers := v.GetStringSlice("peers"); len(peers) > 0 {
		cfg.Peers = peers
	}

	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// Validate checks NodeConfig field by field, returning a sentinel error
// for the first violation.
func (c NodeConfig) Validate() error {
	if c.NodeID == "" {
		return ErrMissingNodeID
	}
	if !validPort(c.HTTPPort) || !validPort(c.GossipPort) {
		return ErrInvalidPort
	}
	if c.GossipInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}
