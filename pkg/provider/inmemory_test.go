package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNodeAndNonTerminatedNodes(t *testing.T) {
	p := NewInMemory()

	err := p.CreateNode("worker", map[string]string{"cloudtik-user-node-type": "worker"}, 2)
	require.NoError(t, err)

	ids, err := p.NonTerminatedNodes(nil)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestNonTerminatedNodesFiltersByTags(t *testing.T) {
	p := NewInMemory()
	require.NoError(t, p.CreateNode("worker", map[string]string{"kind": "worker"}, 1))
	require.NoError(t, p.CreateNode("gpu", map[string]string{"kind": "gpu"}, 1))

	ids, err := p.NonTerminatedNodes(map[string]string{"kind": "gpu"})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	tags, err := p.NodeTags(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "gpu", tags["kind"])
}

func TestTerminateNodeExcludesFromNonTerminated(t *testing.T) {
	p := NewInMemory()
	require.NoError(t, p.CreateNode("worker", nil, 1))

	ids, _ := p.NonTerminatedNodes(nil)
	require.Len(t, ids, 1)

	require.NoError(t, p.TerminateNode(ids[0]))

	remaining, _ := p.NonTerminatedNodes(nil)
	assert.Empty(t, remaining)

	terminated, err := p.IsTerminated(ids[0])
	require.NoError(t, err)
	assert.True(t, terminated)
}

func TestSetNodeTagsMergesIntoExisting(t *testing.T) {
	p := NewInMemory()
	require.NoError(t, p.CreateNode("worker", map[string]string{"a": "1"}, 1))
	ids, _ := p.NonTerminatedNodes(nil)

	require.NoError(t, p.SetNodeTags(ids[0], map[string]string{"b": "2"}))

	tags, err := p.NodeTags(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "1", tags["a"])
	assert.Equal(t, "2", tags["b"])
}

func TestUnknownNodeReturnsErrNodeNotFound(t *testing.T) {
	p := NewInMemory()

	_, err := p.NodeTags("does-not-exist")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCreateNodeRetriesTransientFailures(t *testing.T) {
	p := NewInMemory()
	p.LaunchFailureRate = 1.0 // every attempt fails transiently

	err := p.CreateNode("worker", nil, 1)
	assert.Error(t, err, "should exhaust retries and surface the transient error")
	assert.True(t, IsTransient(err))
}
