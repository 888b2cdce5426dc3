package crdt

// PNCounter is a supplemental positive-negative counter composed of two
// GCounters, used for resource-category events carrying a signed delta
// (e.g. shelter capacity going up or down).
type PNCounter struct {
	Inc *GCounter `json:"inc"`
	Dec *GCounter `json:"dec"`
}

// NewPNCounter returns a zero-valued counter.
func NewPNCounter() *PNCounter {
	return &PNCounter{Inc: NewGCounter(), Dec: NewGCounter()}
}

// Apply records a signed delta attributed to node.
func (p *PNCounter) Apply(node string, delta int64) {
	if delta >= 0 {
		p.Inc.Increment(node, uint64(delta))
	} else {
		p.Dec.Increment(node, uint64(-delta))
	}
}

// Value returns inc.Value() - dec.Value().
func (p *PNCounter) Value() int64 {
	return int64(p.Inc.Value()) - int64(p.Dec.Value())
}

// Merge merges each half independently.
func (p *PNCounter) Merge(other *PNCounter) {
	if other == nil {
		return
	}
	p.Inc.Merge(other.Inc)
	p.Dec.Merge(other.Dec)
}

// Clone returns a deep copy.
func (p *PNCounter) Clone() *PNCounter {
	return &PNCounter{Inc: p.Inc.Clone(), Dec: p.Dec.Clone()}
}
