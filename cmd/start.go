package cmd

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a mesh node",
	Long: `Start a mesh node: its ReplicaStore, IntakeService HTTP server, and
GossipService UDP loop.

Examples:
  # Start a node
  edgemesh start --node-id=node-1 --http-port=8080 --gossip-port=9000

  # Start a node with peers to gossip with
  edgemesh start --node-id=node-2 --http-port=8081 --gossip-port=9001 \
    --peers=127.0.0.1:9000`,
	Run: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	config.BindNodeFlags(startCmd)
}

func runStart(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadNodeConfig(cmd)
	if err != nil {
		log.Fatalf("invalid node configuration: %v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("failed to create node: %v", err)
	}

	if err := n.Start(); err != nil {
		log.Fatalf("failed to start node: %v", err)
	}

	logging.For("cmd").Info("node_running", "node_id", cfg.NodeID, "http_port", cfg.HTTPPort, "gossip_port", cfg.GossipPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.For("cmd").Info("shutting_down", "node_id", cfg.NodeID)
	if err := n.Stop(); err != nil {
		log.Fatalf("error during shutdown: %v", err)
	}
}
