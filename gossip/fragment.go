package gossip

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxDatagramBytes is the hard cap on any gossip UDP datagram.
const MaxDatagramBytes = 8 * 1024

// chunkRawSize is the number of raw payload bytes per fragment. Chosen so
// that base64 expansion (4/3) plus the JSON envelope overhead stays well
// under MaxDatagramBytes.
const chunkRawSize = 5000

// reassembleTimeout bounds how long a partial fragment set is kept before
// being discarded as unreassemblable.
const reassembleTimeout = 5 * time.Second

// fragmentPayload splits payload into one or more datagrams. A payload
// that already fits in a single datagram is still wrapped so the receiver
// has a uniform decode path.
func fragmentPayload(payload []byte) ([][]byte, error) {
	total := (len(payload) + chunkRawSize - 1) / chunkRawSize
	if total == 0 {
		total = 1
	}
	if total > 1<<16-1 {
		return nil, fmt.Errorf("gossip: payload too large to fragment (%d chunks)", total)
	}

	fragID := uuid.NewString()
	out := make([][]byte, 0, total)

	for i := 0; i < total; i++ {
		start := i * chunkRawSize
		end := start + chunkRawSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		header := FragmentHeader{
			Msg:    MsgStateFrag,
			FragID: fragID,
			Index:  uint16(i),
			Total:  uint16(total),
			Data:   base64.StdEncoding.EncodeToString(chunk),
		}
		data, err := json.Marshal(header)
		if err != nil {
			return nil, err
		}
		if len(data) > MaxDatagramBytes {
			return nil, fmt.Errorf("gossip: fragment %d/%d exceeds max datagram size (%d bytes)", i, total, len(data))
		}
		out = append(out, data)
	}
	return out, nil
}

type pendingFragment struct {
	chunks    map[uint16][]byte
	total     uint16
	firstSeen time.Time
}

// Reassembler reconstructs fragmented STATE payloads, discarding any that
// do not complete within reassembleTimeout.
type Reassembler struct {
	mu      sync.Mutex
	pending map[string]*pendingFragment
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[string]*pendingFragment)}
}

// Add records one fragment. It returns the reassembled payload and true
// once every fragment for fragID has arrived.
func (r *Reassembler) Add(header FragmentHeader) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.purgeStaleLocked()

	data, err := base64.StdEncoding.DecodeString(header.Data)
	if err != nil {
		return nil, false
	}

	p, ok := r.pending[header.FragID]
	if !ok {
		p = &pendingFragment{chunks: make(map[uint16][]byte), total: header.Total, firstSeen: time.Now()}
		r.pending[header.FragID] = p
	}
	p.chunks[header.Index] = data

	if uint16(len(p.chunks)) < p.total {
		return nil, false
	}

	out := make([]byte, 0)
	for i := uint16(0); i < p.total; i++ {
		chunk, ok := p.chunks[i]
		if !ok {
			// a duplicate/reordered delivery raced ahead of a missing
			// index; wait for more fragments.
			return nil, false
		}
		out = append(out, chunk...)
	}

	delete(r.pending, header.FragID)
	return out, true
}

func (r *Reassembler) purgeStaleLocked() {
	now := time.Now()
	for id, p := range r.pending {
		if now.Sub(p.firstSeen) > reassembleTimeout {
			delete(r.pending, id)
		}
	}
}
