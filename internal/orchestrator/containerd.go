package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
)

const (
	imageRef   = "collaborative-edge-mesh-node:latest"
	httpPort   = 8000
	gossipPort = 9000
)

// Containerd is the real OrchestratorPort backend, one containerd.Client
// per gateway process.
type Containerd struct {
	client    *containerd.Client
	namespace string
	log       logging.Logger

	managed map[string]managedNode
}

type managedNode struct {
	containerID string
	name        string
	isolated    bool
}

// NewContainerd dials the containerd socket and scopes every operation to
// namespace.
func NewContainerd(socketPath, namespace string) (*Containerd, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connect to containerd at %s: %w", socketPath, err)
	}
	return &Containerd{
		client:    client,
		namespace: namespace,
		log:       logging.For("orchestrator"),
		managed:   make(map[string]managedNode),
	}, nil
}

// Close releases the containerd client connection.
func (c *Containerd) Close() error {
	return c.client.Close()
}

func (c *Containerd) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

func containerName(nodeID string) string {
	return "edge-" + nodeID
}

// Create pulls the node image (if not already present), creates and starts
// a container running it, configured with EDGEMESH_NODE_ID/
// EDGEMESH_HTTP_PORT/EDGEMESH_GOSSIP_PORT/EDGEMESH_PEERS (space-separated)
// environment variables the node's config loader reads at boot.
func (c *Containerd) Create(ctx context.Context, nodeID string, peers []string) (NodeDescriptor, error) {
	ctx = c.ctx(ctx)
	name := containerName(nodeID)

	image, err := c.client.GetImage(ctx, imageRef)
	if err != nil {
		image, err = c.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
		if err != nil {
			return NodeDescriptor{}, fmt.Errorf("orchestrator: pull image: %w", err)
		}
	}

	env := []string{
		"EDGEMESH_NODE_ID=" + nodeID,
		fmt.Sprintf("EDGEMESH_HTTP_PORT=%d", httpPort),
		fmt.Sprintf("EDGEMESH_GOSSIP_PORT=%d", gossipPort),
		"EDGEMESH_PEERS=" + strings.Join(peers, " "),
	}

	container, err := c.client.NewContainer(
		ctx, name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithEnv(env)),
	)
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("orchestrator: create container %s: %w", name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return NodeDescriptor{}, fmt.Errorf("orchestrator: create task for %s: %w", name, err)
	}
	if err := task.Start(ctx); err != nil {
		return NodeDescriptor{}, fmt.Errorf("orchestrator: start task for %s: %w", name, err)
	}

	c.managed[nodeID] = managedNode{containerID: container.ID(), name: name}

	c.log.Info("node_created", "node_id", nodeID, "container", name)
	return NodeDescriptor{
		NodeID:  nodeID,
		Name:    name,
		URL:     fmt.Sprintf("http://%s:%d", name, httpPort),
		Status:  StatusRunning,
		Managed: true,
	}, nil
}

// Delete stops the node's task and removes its container and snapshot.
func (c *Containerd) Delete(ctx context.Context, nodeID string) error {
	ctx = c.ctx(ctx)
	name := containerName(nodeID)

	container, err := c.client.LoadContainer(ctx, name)
	if err != nil {
		return nil // already gone
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = task.Kill(stopCtx, syscall.SIGTERM)
		statusC, waitErr := task.Wait(stopCtx)
		if waitErr == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = task.Kill(ctx, syscall.SIGKILL)
			}
		}
		cancel()
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("orchestrator: delete container %s: %w", name, err)
	}
	delete(c.managed, nodeID)
	c.log.Info("node_removed", "node_id", nodeID)
	return nil
}

// Isolate runs iptables rules inside the node's container dropping all UDP
// traffic, cutting it off from gossip without stopping the process.
func (c *Containerd) Isolate(ctx context.Context, nodeID string) error {
	if err := c.execIptables(ctx, nodeID, "-A", "INPUT", "-p", "udp", "-j", "DROP"); err != nil {
		return err
	}
	if err := c.execIptables(ctx, nodeID, "-A", "OUTPUT", "-p", "udp", "-j", "DROP"); err != nil {
		return err
	}
	m := c.managed[nodeID]
	m.isolated = true
	c.managed[nodeID] = m
	c.log.Info("node_isolated", "node_id", nodeID)
	return nil
}

// Heal flushes the iptables rules Isolate installed.
func (c *Containerd) Heal(ctx context.Context, nodeID string) error {
	if err := c.execIptables(ctx, nodeID, "-F", "INPUT"); err != nil {
		return err
	}
	if err := c.execIptables(ctx, nodeID, "-F", "OUTPUT"); err != nil {
		return err
	}
	m := c.managed[nodeID]
	m.isolated = false
	c.managed[nodeID] = m
	c.log.Info("node_healed", "node_id", nodeID)
	return nil
}

// SplitBrain partitions groupA and groupB by dropping UDP traffic to each
// other's container hostname, in both directions.
func (c *Containerd) SplitBrain(ctx context.Context, groupA, groupB []string) error {
	for _, a := range groupA {
		for _, b := range groupB {
			nameB := c.managed[b].name
			nameA := c.managed[a].name
			if nameA == "" || nameB == "" {
				continue
			}
			if err := c.execIptables(ctx, a, "-A", "OUTPUT", "-p", "udp", "-d", nameB, "-j", "DROP"); err != nil {
				return err
			}
			if err := c.execIptables(ctx, b, "-A", "OUTPUT", "-p", "udp", "-d", nameA, "-j", "DROP"); err != nil {
				return err
			}
		}
	}
	c.log.Info("split_brain_created", "group_a", groupA, "group_b", groupB)
	return nil
}

// List returns every node this Containerd instance has created.
func (c *Containerd) List(ctx context.Context) ([]NodeDescriptor, error) {
	out := make([]NodeDescriptor, 0, len(c.managed))
	for nodeID, m := range c.managed {
		status := StatusRunning
		if m.isolated {
			status = StatusIsolated
		}
		out = append(out, NodeDescriptor{
			NodeID:   nodeID,
			Name:     m.name,
			URL:      fmt.Sprintf("http://%s:%d", m.name, httpPort),
			Status:   status,
			Managed:  true,
			Isolated: m.isolated,
		})
	}
	return out, nil
}

func (c *Containerd) execIptables(ctx context.Context, nodeID string, args ...string) error {
	ctx = c.ctx(ctx)
	name := containerName(nodeID)
	container, err := c.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("orchestrator: load container %s: %w", name, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("orchestrator: load task %s: %w", name, err)
	}

	spec := &specs.Process{Args: append([]string{"iptables"}, args...), Cwd: "/"}
	process, err := task.Exec(ctx, "iptables-"+strings.Join(args, "-"), spec, cio.NullIO)
	if err != nil {
		return fmt.Errorf("orchestrator: exec iptables in %s: %w", name, err)
	}
	if err := process.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: start iptables exec in %s: %w", name, err)
	}
	statusC, err := process.Wait(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: wait for iptables exec in %s: %w", name, err)
	}
	<-statusC
	_, _ = process.Delete(ctx)
	return nil
}
