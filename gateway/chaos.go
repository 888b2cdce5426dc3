package gateway

import (
	"context"
	"fmt"
	"sort"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/internal/orchestrator"
)

// ChaosController drives node lifecycle and partition operations through
// an OrchestratorPort, keeping the FleetPoller's roster in sync with
// whatever the orchestrator creates or removes. Grounded on
// original_source/src/services/docker_manager.py's create/remove/
// isolate/heal/split-brain operation set.
type ChaosController struct {
	port   orchestrator.Port
	poller *FleetPoller
	log    logging.Logger
}

// NewChaosController wires a ChaosController to port and poller.
func NewChaosController(port orchestrator.Port, poller *FleetPoller) *ChaosController {
	return &ChaosController{port: port, poller: poller, log: logging.For("chaos")}
}

// CreateNode asks the orchestrator to spin up a node and registers it with
// the poller using the descriptor's URL.
func (c *ChaosController) CreateNode(ctx context.Context, nodeID string) (orchestrator.NodeDescriptor, error) {
	peers := make([]string, 0, len(c.poller.Roster()))
	for _, url := range c.poller.Roster() {
		peers = append(peers, url)
	}
	desc, err := c.port.Create(ctx, nodeID, peers)
	if err != nil {
		return orchestrator.NodeDescriptor{}, fmt.Errorf("chaos: create node: %w", err)
	}
	c.poller.RegisterNode(desc.NodeID, desc.URL)
	return desc, nil
}

// CreateBatch creates count nodes sequentially, collecting per-node errors
// rather than aborting the whole batch on the first failure.
func (c *ChaosController) CreateBatch(ctx context.Context, count int) ([]orchestrator.NodeDescriptor, []string) {
	descs := make([]orchestrator.NodeDescriptor, 0, count)
	var failures []string
	for i := 0; i < count; i++ {
		desc, err := c.CreateNode(ctx, "")
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		descs = append(descs, desc)
	}
	return descs, failures
}

// RemoveNode tears a node down and drops it from the poller's roster.
func (c *ChaosController) RemoveNode(ctx context.Context, nodeID string) error {
	if err := c.port.Delete(ctx, nodeID); err != nil {
		return fmt.Errorf("chaos: remove node %s: %w", nodeID, err)
	}
	c.poller.UnregisterNode(nodeID)
	return nil
}

// IsolateNode drops a single node's gossip traffic.
func (c *ChaosController) IsolateNode(ctx context.Context, nodeID string) error {
	return c.port.Isolate(ctx, nodeID)
}

// HealAll restores connectivity to every node in the current roster.
func (c *ChaosController) HealAll(ctx context.Context) []string {
	healed := make([]string, 0)
	for nodeID := range c.poller.Roster() {
		if err := c.port.Heal(ctx, nodeID); err != nil {
			c.log.Error("heal_failed", "node_id", nodeID, "error", err)
			continue
		}
		healed = append(healed, nodeID)
	}
	return healed
}

// SplitBrain partitions the current roster into two halves by node_id
// order and isolates each half from the other.
func (c *ChaosController) SplitBrain(ctx context.Context) (groupA, groupB []string, err error) {
	roster := c.poller.Roster()
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, nil, fmt.Errorf("chaos: need at least 2 nodes to split, have %d", len(ids))
	}
	sort.Strings(ids)

	mid := (len(ids) + 1) / 2
	groupA, groupB = ids[:mid], ids[mid:]
	if splitErr := c.port.SplitBrain(ctx, groupA, groupB); splitErr != nil {
		return nil, nil, fmt.Errorf("chaos: split brain: %w", splitErr)
	}
	return groupA, groupB, nil
}

// List returns the orchestrator's current view of every node.
func (c *ChaosController) List(ctx context.Context) ([]orchestrator.NodeDescriptor, error) {
	return c.port.List(ctx)
}
