package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(bind func(*cobra.Command)) *cobra.Command {
	cmd := &cobra.Command{Run: func(*cobra.Command, []string) {}}
	bind(cmd)
	return cmd
}

func TestLoadNodeConfigAppliesDefaults(t *testing.T) {
	cmd := newTestCmd(BindNodeFlags)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := LoadNodeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9000, cfg.GossipPort)
}

func TestLoadNodeConfigFlagsOverrideDefaults(t *testing.T) {
	cmd := newTestCmd(BindNodeFlags)
	require.NoError(t, cmd.ParseFlags([]string{"--node-id=node-7", "--peers=a:1,b:2"}))

	cfg, err := LoadNodeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Peers)
}

func TestLoadNodeConfigRejectsEmptyNodeID(t *testing.T) {
	cmd := newTestCmd(BindNodeFlags)
	require.NoError(t, cmd.ParseFlags([]string{"--node-id="}))

	_, err := LoadNodeConfig(cmd)
	assert.ErrorIs(t, err, ErrMissingNodeID)
}

func TestLoadNodeConfigReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node-id: from-file\nhttp-port: 9191\n"), 0o644))

	cmd := newTestCmd(BindNodeFlags)
	require.NoError(t, cmd.ParseFlags([]string{"--config=" + path}))

	cfg, err := LoadNodeConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.NodeID)
	assert.Equal(t, 9191, cfg.HTTPPort)
}

func TestLoadGatewayConfigRejectsUnknownOrchestrator(t *testing.T) {
	cmd := newTestCmd(BindGatewayFlags)
	require.NoError(t, cmd.ParseFlags([]string{"--orchestrator=docker"}))

	_, err := LoadGatewayConfig(cmd)
	assert.ErrorIs(t, err, ErrInvalidOrchestrator)
}

func TestLoadGatewayConfigAppliesDefaults(t *testing.T) {
	cmd := newTestCmd(BindGatewayFlags)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := LoadGatewayConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "gateway-1", cfg.GatewayID)
	assert.Equal(t, "fake", cfg.Orchestrator)
}
