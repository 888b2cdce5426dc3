package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCreateAssignsSequentialID(t *testing.T) {
	f := NewFake()
	a, err := f.Create(context.Background(), "", nil)
	require.NoError(t, err)
	b, err := f.Create(context.Background(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, "node-1", a.NodeID)
	assert.Equal(t, "node-2", b.NodeID)
}

func TestFakeIsolateAndHealToggleStatus(t *testing.T) {
	f := NewFake()
	desc, err := f.Create(context.Background(), "node-x", nil)
	require.NoError(t, err)

	require.NoError(t, f.Isolate(context.Background(), desc.NodeID))
	nodes, err := f.List(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Isolated)
	assert.Equal(t, StatusIsolated, nodes[0].Status)

	require.NoError(t, f.Heal(context.Background(), desc.NodeID))
	nodes, err = f.List(context.Background())
	require.NoError(t, err)
	assert.False(t, nodes[0].Isolated)
}

func TestFakeSplitBrainIsolatesBothGroups(t *testing.T) {
	f := NewFake()
	_, _ = f.Create(context.Background(), "a", nil)
	_, _ = f.Create(context.Background(), "b", nil)
	_, _ = f.Create(context.Background(), "c", nil)

	require.NoError(t, f.SplitBrain(context.Background(), []string{"a"}, []string{"b", "c"}))
	nodes, err := f.List(context.Background())
	require.NoError(t, err)
	for _, n := range nodes {
		assert.True(t, n.Isolated)
	}
}

func TestFakeDeleteRemovesNode(t *testing.T) {
	f := NewFake()
	_, _ = f.Create(context.Background(), "a", nil)
	require.NoError(t, f.Delete(context.Background(), "a"))

	nodes, err := f.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFakeIsolateUnknownNodeErrors(t *testing.T) {
	f := NewFake()
	err := f.Isolate(context.Background(), "missing")
	assert.Error(t, err)
}
