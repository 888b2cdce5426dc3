package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/shghadge/collaborative-edge-mesh/internal/logging"
	"github.com/shghadge/collaborative-edge-mesh/replica"
)

// Config holds GossipService tuning knobs.
type Config struct {
	NodeID   string
	BindAddr string   // "host:port" to listen on
	Peers    []string // "host:port" of every configured peer
	Interval time.Duration
	Jitter   float64 // fractional jitter, e.g. 0.10 for ±10%
}

// DefaultInterval and DefaultJitter are T_gossip and its jitter from the
// spec.
const (
	DefaultInterval = 5 * time.Second
	DefaultJitter   = 0.10
)

// Service is a node's GossipService.
type Service struct {
	cfg   Config
	store *replica.Store
	log   logging.Logger

	conn        *net.UDPConn
	reassembler *Reassembler
}

// New binds the UDP socket for cfg.BindAddr. The socket is not used until
// Run is called.
func New(cfg Config, store *replica.Store) (*Service, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = DefaultJitter
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip: resolve bind addr %s: %w", cfg.BindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("gossip: listen %s: %w", cfg.BindAddr, err)
	}

	return &Service{
		cfg:         cfg,
		store:       store,
		log:         logging.For("gossip").With("node_id", cfg.NodeID),
		conn:        conn,
		reassembler: NewReassembler(),
	}, nil
}

// Run blocks, interleaving the broadcast timer and the inbound-datagram
// handler, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.receiveLoop(ctx)
	}()

	s.broadcastLoop(ctx)

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Close releases the UDP socket.
func (s *Service) Close() error {
	return s.conn.Close()
}

func (s *Service) broadcastLoop(ctx context.Context) {
	for {
		wait := s.jitteredInterval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.broadcastDigest()
		}
	}
}

func (s *Service) jitteredInterval() time.Duration {
	base := float64(s.cfg.Interval)
	delta := base * s.cfg.Jitter * (2*rand.Float64() - 1)
	return time.Duration(base + delta)
}

func (s *Service) broadcastDigest() {
	root := s.store.MerkleRoot()
	msg := DigestMessage{
		Envelope:   Envelope{Msg: MsgDigest, NodeID: s.cfg.NodeID, Version: s.store.Version()},
		MerkleRoot: root.Hex(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal_digest_failed", "error", err)
		return
	}
	for _, peer := range s.cfg.Peers {
		s.sendTo(peer, data)
	}
}

func (s *Service) sendTo(peer string, data []byte) {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		s.log.Error("resolve_peer_failed", "peer", peer, "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		// best-effort: the next gossip tick retries naturally, so a send
		// failure here is not escalated.
		s.log.Error("send_failed", "peer", peer, "error", err)
	}
}

func (s *Service) receiveLoop(ctx context.Context) error {
	buf := make([]byte, MaxDatagramBytes*2)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gossip: read: %w", err)
		}
		s.handleDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

func (s *Service) handleDatagram(data []byte, addr *net.UDPAddr) {
	var probe probeEnvelope
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.Debug("malformed_packet_dropped", "from", addr.String())
		return
	}

	switch probe.Msg {
	case MsgDigest:
		s.handleDigest(data, addr)
	case MsgPullReq:
		s.handlePullReq(data, addr)
	case MsgState:
		s.handleState(data)
	case MsgStateFrag:
		s.handleStateFragment(data)
	default:
		s.log.Debug("malformed_packet_dropped", "from", addr.String(), "msg", string(probe.Msg))
	}
}

func (s *Service) handleDigest(data []byte, addr *net.UDPAddr) {
	var msg DigestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("malformed_digest_dropped", "from", addr.String())
		return
	}
	if msg.MerkleRoot == s.store.MerkleRoot().Hex() {
		return
	}

	req := PullReqMessage{
		Envelope:     Envelope{Msg: MsgPullReq, NodeID: s.cfg.NodeID, Version: s.store.Version()},
		SinceVersion: 0,
	}
	reqData, err := json.Marshal(req)
	if err != nil {
		s.log.Error("marshal_pull_req_failed", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(reqData, addr); err != nil {
		s.log.Error("send_pull_req_failed", "to", addr.String(), "error", err)
	}
}

func (s *Service) handlePullReq(data []byte, addr *net.UDPAddr) {
	var msg PullReqMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("malformed_pull_req_dropped", "from", addr.String())
		return
	}

	snapshot, err := s.store.Snapshot()
	if err != nil {
		s.log.Error("snapshot_failed", "error", err)
		return
	}
	state := StateMessage{
		Envelope: Envelope{Msg: MsgState, NodeID: s.cfg.NodeID, Version: s.store.Version()},
		Snapshot: snapshot,
	}
	payload, err := json.Marshal(state)
	if err != nil {
		s.log.Error("marshal_state_failed", "error", err)
		return
	}

	if len(payload) <= MaxDatagramBytes {
		if _, err := s.conn.WriteToUDP(payload, addr); err != nil {
			s.log.Error("send_state_failed", "to", addr.String(), "error", err)
		}
		return
	}

	fragments, err := fragmentPayload(payload)
	if err != nil {
		s.log.Error("fragment_state_failed", "error", err)
		return
	}
	for _, frag := range fragments {
		if _, err := s.conn.WriteToUDP(frag, addr); err != nil {
			s.log.Error("send_fragment_failed", "to", addr.String(), "error", err)
			return
		}
	}
}

func (s *Service) handleState(data []byte) {
	var msg StateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("malformed_state_dropped")
		return
	}
	s.mergeSnapshot(msg.Snapshot)
}

func (s *Service) handleStateFragment(data []byte) {
	var header FragmentHeader
	if err := json.Unmarshal(data, &header); err != nil {
		s.log.Debug("malformed_fragment_dropped")
		return
	}
	full, complete := s.reassembler.Add(header)
	if !complete {
		return
	}
	var msg StateMessage
	if err := json.Unmarshal(full, &msg); err != nil {
		s.log.Debug("malformed_reassembled_state_dropped")
		return
	}
	s.mergeSnapshot(msg.Snapshot)
}

func (s *Service) mergeSnapshot(snapshot replica.ReplicaWire) {
	if _, err := s.store.Merge(snapshot); err != nil {
		s.log.Error("merge_failed", "from_node", snapshot.NodeID, "error", err)
	}
}
