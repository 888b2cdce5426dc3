// Package orchestrator implements OrchestratorPort: the gateway's interface
// for creating, deleting, isolating, and healing mesh node containers.
// Grounded on original_source/src/services/docker_manager.py for the
// operation set (create/remove/isolate/heal/split-brain) and on
// cuemby-warren/pkg/runtime/containerd.go for the containerd-backed
// implementation's shape (namespaced client, one method per lifecycle
// verb, sentinel-wrapped errors).
package orchestrator

import "context"

// NodeDescriptor is what the orchestrator knows about one managed or
// discovered node.
type NodeDescriptor struct {
	NodeID   string `json:"node_id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Status   string `json:"status"` // running | isolated | stopped | unreachable
	Managed  bool   `json:"managed"`
	Isolated bool   `json:"isolated"`
}

const (
	StatusRunning     = "running"
	StatusIsolated    = "isolated"
	StatusStopped     = "stopped"
	StatusUnreachable = "unreachable"
)

// Port is the OrchestratorPort the gateway's node-lifecycle and chaos
// endpoints are built against. Two implementations exist: Containerd (real)
// and Fake (in-process, used in tests and the "fake" orchestrator config).
type Port interface {
	// Create spins up a new node container and returns its descriptor.
	Create(ctx context.Context, nodeID string, peers []string) (NodeDescriptor, error)
	// Delete stops and removes a node container.
	Delete(ctx context.Context, nodeID string) error
	// Isolate drops UDP gossip traffic to/from a node.
	Isolate(ctx context.Context, nodeID string) error
	// Heal restores a previously isolated node's connectivity.
	Heal(ctx context.Context, nodeID string) error
	// SplitBrain partitions groupA and groupB from each other.
	SplitBrain(ctx context.Context, groupA, groupB []string) error
	// List returns every node the orchestrator currently knows about.
	List(ctx context.Context) ([]NodeDescriptor, error)
}
