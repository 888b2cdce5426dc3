package config

import (
	"time"

	"github.com/spf13/cobra"
)

// GatewayConfig configures the fleet gateway process.
type GatewayConfig struct {
	GatewayID          string        `mapstructure:"gateway_id"`
	HTTPPort           int           `mapstructure:"http_port"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	Orchestrator       string        `mapstructure:"orchestrator"` // "containerd" | "fake"
	BboltPath          string        `mapstructure:"bbolt_path"`
	ContainerdSocket   string        `mapstructure:"containerd_socket"`
	ContainerdNamespace string       `mapstructure:"containerd_namespace"`
}

// DefaultGatewayConfig returns the baseline a gateway starts from.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		GatewayID:           "gateway-1",
		HTTPPort:            8000,
		PollInterval:        2 * time.Second,
		FetchTimeout:        1500 * time.Millisecond,
		Orchestrator:        "fake",
		BboltPath:           "/data/gateway/gateway-1.db",
		ContainerdSocket:    "/run/containerd/containerd.sock",
		ContainerdNamespace: "edgemesh",
	}
}

// BindGatewayFlags registers the CLI flags for the "gateway" command.
func BindGatewayFlags(cmd *cobra.Command) {
	def := DefaultGatewayConfig()
	cmd.Flags().String("config", "", "path to a YAML config file")
	cmd.Flags().String("gateway-id", def.GatewayID, "unique gateway identifier")
	cmd.Flags().Int("http-port", def.HTTPPort, "gateway HTTP API port")
	cmd.Flags().Duration("poll-interval", def.PollInterval, "fleet poll interval")
	cmd.Flags().Duration("fetch-timeout", def.FetchTimeout, "per-node fetch timeout")
	cmd.Flags().String("orchestrator", def.Orchestrator, "orchestrator backend: containerd or fake")
	cmd.Flags().String("bbolt-path", def.BboltPath, "path to the gateway's bbolt operational store")
	cmd.Flags().String("containerd-socket", def.ContainerdSocket, "containerd socket path")
	cmd.Flags().String("containerd-namespace", def.ContainerdNamespace, "containerd namespace")
}

// LoadGatewayConfig resolves a GatewayConfig the same way LoadNodeConfig
// does: flags layered over env vars layered over an optional file.
func LoadGatewayConfig(cmd *cobra.Command) (GatewayConfig, error) {
	v, err := newViper(cmd, "config")
	if err != nil {
		return GatewayConfig{}, err
	}

	cfg := DefaultGatewayConfig()
	cfg.GatewayID = v.GetString("gateway-id")
	cfg.HTTPPort = v.GetInt("http-port")
	cfg.PollInterval = v.GetDuration("poll-interval")
	cfg.FetchTimeout = v.GetDuration("fetch-timeout")
	cfg.Orchestrator = v.GetString("orchestrator")
	cfg.BboltPath = v.GetString("bbolt-path")
	cfg.ContainerdSocket = v.GetString("containerd-socket")
	cfg.ContainerdNamespace = v.GetString("containerd-namespace")

	if err := cfg.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// Validate checks GatewayConfig the same way NodeConfig.Validate does.
func (c GatewayConfig) Validate() error {
	if c.GatewayID == "" {
		return ErrMissingGatewayID
	}
	if !validPort(c.HTTPPort) {
		return ErrInvalidPort
	}
	if c.PollInterval <= 0 || c.FetchTimeout <= 0 {
		return ErrInvalidInterval
	}
	if c.Orchestrator != "containerd" && c.Orchestrator != "fake" {
		return ErrInvalidOrchestrator
	}
	return nil
}
