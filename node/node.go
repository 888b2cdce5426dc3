// Package node wires together a mesh node's ReplicaStore, IntakeService,
// and GossipService into one process, grounded on node/manager.go's
// lifecycle idiom (Start spawns background loops, Stop tears them down in
// reverse, both return an error rather than panicking).
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/gossip"
	"github.com/shghadge/collaborative-edge-mesh/intake"
	"github.com/shghadge/collaborative-edge-mesh/internal/config"
	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/replica"
)

// ErrAlreadyStarted is returned by Start if called more than once.
var ErrAlreadyStarted = errors.New("node: already started")

// Node owns the full lifecycle of a mesh node process.
type Node struct {
	cfg config.NodeConfig
	log logging.Logger

	store  *replica.Store
	intake *intake.Service
	gossip *gossip.Service

	httpServer *http.Server
	isolated   *atomic.Bool

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Node from cfg, opening its hash-chain log and binding
// its gossip UDP socket. Nothing runs until Start is called.
func New(cfg config.NodeConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := replica.Open(cfg.NodeID, cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("node: open replica store: %w", err)
	}

	isolated := &atomic.Bool{}
	intakeSvc := intake.New(store, cfg.NodeID, cfg.Peers, isolated)

	gossipSvc, err := gossip.New(gossip.Config{
		NodeID:   cfg.NodeID,
		BindAddr: net.JoinHostPort(cfg.BindAddr, itoa(cfg.GossipPort)),
		Peers:    cfg.Peers,
		Interval: cfg.GossipInterval,
		Jitter:   cfg.GossipJitter,
	}, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("node: start gossip service: %w", err)
	}

	return &Node{
		cfg:      cfg,
		log:      logging.For("node").With("node_id", cfg.NodeID),
		store:    store,
		intake:   intakeSvc,
		gossip:   gossipSvc,
		isolated: isolated,
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(cfg.BindAddr, itoa(cfg.HTTPPort)),
			Handler: intakeSvc.Handler(),
		},
	}, nil
}

// Start launches the IntakeService HTTP server and the GossipService
// broadcast/receive loops in background goroutines and returns immediately.
func (n *Node) Start() error {
	if n.started {
		return ErrAlreadyStarted
	}
	n.started = true

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.log.Info("http_listening", "addr", n.httpServer.Addr)
		if err := n.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("http_server_failed", "error", err)
		}
	}()
	go func() {
		defer n.wg.Done()
		n.log.Info("gossip_started", "peers", n.cfg.Peers)
		if err := n.gossip.Run(ctx); err != nil {
			n.log.Error("gossip_loop_failed", "error", err)
		}
	}()

	return nil
}

// Stop cancels the gossip loop, shuts the HTTP server down gracefully, and
// closes the replica store's log file.
func (n *Node) Stop() error {
	if !n.started {
		return errors.Join(n.gossip.Close(), n.store.Close())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpErr := n.httpServer.Shutdown(shutdownCtx)

	n.cancel()
	gossipErr := n.gossip.Close()
	n.wg.Wait()

	storeErr := n.store.Close()

	return errors.Join(httpErr, gossipErr, storeErr)
}

// Isolate flips the node's isolated flag, reported at GET /status. Actual
// network isolation is performed by the gateway's OrchestratorPort against
// the node's container, not by the node itself.
func (n *Node) Isolate()  { n.isolated.Store(true) }
func (n *Node) Heal()     { n.isolated.Store(false) }
func (n *Node) Isolated() bool { return n.isolated.Load() }

// Store exposes the underlying ReplicaStore, e.g. for tests driving events
// directly instead of through the HTTP surface.
func (n *Node) Store() *replica.Store { return n.store }

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
