package gossip

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shghadge/collaborative-edge-mesh/replica"
)

func openTestStore(t *testing.T, nodeID string) *replica.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), nodeID+".log")
	s, err := replica.Open(nodeID, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReassemblerReassemblesInOrder(t *testing.T) {
	r := NewReassembler()
	payload := []byte("hello fragmented gossip world, this is the reconstructed state")

	fragments, err := fragmentForTest(payload, 8)
	require.NoError(t, err)
	require.Greater(t, len(fragments), 1)

	var got []byte
	var complete bool
	for _, f := range fragments {
		got, complete = r.Add(f)
	}
	require.True(t, complete)
	assert.Equal(t, payload, got)
}

func TestReassemblerDropsStaleFragments(t *testing.T) {
	r := NewReassembler()
	r.pending["stale"] = &pendingFragment{
		chunks:    map[uint16][]byte{0: []byte("x")},
		total:     2,
		firstSeen: time.Now().Add(-10 * time.Second),
	}

	header := FragmentHeader{Msg: MsgStateFrag, FragID: "fresh", Index: 0, Total: 1, Data: "aGk="}
	_, complete := r.Add(header)
	require.True(t, complete)

	_, stillPending := r.pending["stale"]
	assert.False(t, stillPending, "fragments older than T_reassemble must be purged")
}

func fragmentForTest(payload []byte, chunkSize int) ([]FragmentHeader, error) {
	total := (len(payload) + chunkSize - 1) / chunkSize
	fragID := "test-frag"
	out := make([]FragmentHeader, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, FragmentHeader{
			Msg:    MsgStateFrag,
			FragID: fragID,
			Index:  uint16(i),
			Total:  uint16(total),
			Data:   base64.StdEncoding.EncodeToString(payload[start:end]),
		})
	}
	return out, nil
}

func TestTwoNodesConvergeViaGossip(t *testing.T) {
	storeA := openTestStore(t, "nodeA")
	storeB := openTestStore(t, "nodeB")

	_, err := storeA.IngestEvent("water_level", 3.2, "bridge_north", nil, "")
	require.NoError(t, err)

	svcA, err := New(Config{NodeID: "nodeA", BindAddr: "127.0.0.1:0", Interval: 30 * time.Millisecond, Jitter: 0}, storeA)
	require.NoError(t, err)
	defer svcA.Close()

	svcB, err := New(Config{NodeID: "nodeB", BindAddr: "127.0.0.1:0", Interval: 30 * time.Millisecond, Jitter: 0}, storeB)
	require.NoError(t, err)
	defer svcB.Close()

	svcA.cfg.Peers = []string{svcB.conn.LocalAddr().String()}
	svcB.cfg.Peers = []string{svcA.conn.LocalAddr().String()}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go svcA.Run(ctx)
	go svcB.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if storeA.MerkleRoot() == storeB.MerkleRoot() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, storeA.MerkleRoot(), storeB.MerkleRoot(), "nodes must converge within a few gossip ticks")
}
