package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-process OrchestratorPort used by tests and by the
// "orchestrator: fake" config. It only records NodeDescriptors in memory;
// it starts no container, process or goroutine for a node.
type Fake struct {
	mu      sync.Mutex
	nodes   map[string]NodeDescriptor
	nextNum int
}

// NewFake returns an empty Fake orchestrator.
func NewFake() *Fake {
	return &Fake{nodes: make(map[string]NodeDescriptor), nextNum: 1}
}

func (f *Fake) Create(ctx context.Context, nodeID string, peers []string) (NodeDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if nodeID == "" {
		nodeID = fmt.Sprintf("node-%d", f.nextNum)
		f.nextNum++
	}
	if _, exists := f.nodes[nodeID]; exists {
		return f.nodes[nodeID], nil
	}

	desc := NodeDescriptor{
		NodeID:  nodeID,
		Name:    "edge-" + nodeID,
		URL:     fmt.Sprintf("http://%s:8000", nodeID),
		Status:  StatusRunning,
		Managed: true,
	}
	f.nodes[nodeID] = desc
	return desc, nil
}

func (f *Fake) Delete(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, nodeID)
	return nil
}

func (f *Fake) Isolate(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc, ok := f.nodes[nodeID]
	if !ok {
		return fmt.Errorf("orchestrator: node %s not found", nodeID)
	}
	desc.Isolated = true
	desc.Status = StatusIsolated
	f.nodes[nodeID] = desc
	return nil
}

func (f *Fake) Heal(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc, ok := f.nodes[nodeID]
	if !ok {
		return fmt.Errorf("orchestrator: node %s not found", nodeID)
	}
	desc.Isolated = false
	desc.Status = StatusRunning
	f.nodes[nodeID] = desc
	return nil
}

func (f *Fake) SplitBrain(ctx context.Context, groupA, groupB []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, nodeID := range append(append([]string{}, groupA...), groupB...) {
		desc, ok := f.nodes[nodeID]
		if !ok {
			continue
		}
		desc.Isolated = true
		desc.Status = StatusIsolated
		f.nodes[nodeID] = desc
	}
	return nil
}

func (f *Fake) List(ctx context.Context) ([]NodeDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]NodeDescriptor, 0, len(f.nodes))
	for _, desc := range f.nodes {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

var _ Port = (*Fake)(nil)
