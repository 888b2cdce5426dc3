package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shghadge/collaborative-edge-mesh/crdt"
)

func sampleState() (*crdt.ORSet, map[string]*crdt.GCounter, map[string]*crdt.PNCounter, map[string]*crdt.LWWRegister) {
	events := crdt.NewORSet()
	e1 := crdt.Event{EventID: "e1", NodeOrigin: "n1", Type: "water_level"}
	events.Add(e1.Tag(), e1)

	counters := map[string]*crdt.GCounter{"events_total": crdt.NewGCounter()}
	counters["events_total"].Increment("n1", 1)

	resourceCounters := map[string]*crdt.PNCounter{}

	registers := map[string]*crdt.LWWRegister{"water_level@bridge_north": crdt.NewLWWRegister()}
	registers["water_level@bridge_north"].Set(3.2, 1000, "n1")

	return events, counters, resourceCounters, registers
}

func TestComputeIsDeterministic(t *testing.T) {
	events, counters, resourceCounters, registers := sampleState()

	r1 := Compute(events, counters, resourceCounters, registers)
	r2 := Compute(events, counters, resourceCounters, registers)

	assert.Equal(t, r1, r2)
	require.Len(t, r1.Hex(), 64)
}

func TestComputeIndependentOfInsertionOrder(t *testing.T) {
	eventsA := crdt.NewORSet()
	e1 := crdt.Event{EventID: "e1", NodeOrigin: "n1"}
	e2 := crdt.Event{EventID: "e2", NodeOrigin: "n2"}
	eventsA.Add(e1.Tag(), e1)
	eventsA.Add(e2.Tag(), e2)

	eventsB := crdt.NewORSet()
	eventsB.Add(e2.Tag(), e2)
	eventsB.Add(e1.Tag(), e1)

	empty := map[string]*crdt.GCounter{}
	emptyPN := map[string]*crdt.PNCounter{}
	emptyReg := map[string]*crdt.LWWRegister{}

	rootA := Compute(eventsA, empty, emptyPN, emptyReg)
	rootB := Compute(eventsB, empty, emptyPN, emptyReg)

	assert.Equal(t, rootA, rootB)
}

func TestComputeChangesWithState(t *testing.T) {
	events, counters, resourceCounters, registers := sampleState()
	before := Compute(events, counters, resourceCounters, registers)

	counters["events_total"].Increment("n2", 1)
	after := Compute(events, counters, resourceCounters, registers)

	assert.NotEqual(t, before, after)
}
