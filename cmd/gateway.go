package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shghadge/collaborative-edge-mesh/gateway"
	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/internal/orchestrator"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the fleet gateway",
	Long: `Start the fleet gateway: its FleetPoller/Merger/DivergenceTracker
poll loop and its chaos/scenario HTTP API.

Examples:
  # Start a gateway against an in-process fake orchestrator
  edgemesh gateway --gateway-id=gw-1 --http-port=8090 --orchestrator=fake

  # Start a gateway backed by containerd
  edgemesh gateway --orchestrator=containerd \
    --containerd-socket=/run/containerd/containerd.sock`,
	Run: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	config.BindGatewayFlags(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadGatewayConfig(cmd)
	if err != nil {
		log.Fatalf("invalid gateway configuration: %v", err)
	}

	orch, err := buildOrchestrator(cfg)
	if err != nil {
		log.Fatalf("failed to build orchestrator backend: %v", err)
	}

	g, err := gateway.New(cfg, orch)
	if err != nil {
		log.Fatalf("failed to create gateway: %v", err)
	}

	if err := g.Start(); err != nil {
		log.Fatalf("failed to start gateway: %v", err)
	}

	logging.For("cmd").Info("gateway_running", "gateway_id", cfg.GatewayID, "http_port", cfg.HTTPPort, "orchestrator", cfg.Orchestrator)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.For("cmd").Info("shutting_down", "gateway_id", cfg.GatewayID)
	if err := g.Stop(); err != nil {
		log.Fatalf("error during shutdown: %v", err)
	}
}

func buildOrchestrator(cfg config.GatewayConfig) (orchestrator.Port, error) {
	if cfg.Orchestrator == "containerd" {
		return orchestrator.NewContainerd(cfg.ContainerdSocket, cfg.ContainerdNamespace)
	}
	return orchestrator.NewFake(), nil
}
