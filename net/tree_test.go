package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
)

// buildSampleTree wires: PAN(0) -> 1 -> 2 -> 3, and PAN(0) -> 4.
func buildSampleTree() *Tree {
	var tr = NewTree()
	tr.Set(1, addr.PANCID)
	tr.Set(2, 1)
	tr.Set(3, 2)
	tr.Set(4, addr.PANCID)
	return tr
}

func TestNextHopToPANAlwaysGoesToParent(t *testing.T) {
	var tr = buildSampleTree()
	assert.Equal(t, addr.CID(1), tr.NextHop(addr.PANCID, 2, 1))
}

func TestNextHopDownwardIntoOwnSubtree(t *testing.T) {
	var tr = buildSampleTree()
	// Node 1, asked to route to 3 (its grandchild), must hop down to 2.
	assert.Equal(t, addr.CID(2), tr.NextHop(3, 1, addr.PANCID))
}

func TestNextHopUpwardOutOfSubtree(t *testing.T) {
	var tr = buildSampleTree()
	// Node 2, asked to route to 4 (outside its subtree), must hop up to its
	// own parent, 1.
	assert.Equal(t, addr.CID(1), tr.NextHop(4, 2, 1))
}

func TestNextHopOwnCIDIsDirectChild(t *testing.T) {
	var tr = buildSampleTree()
	// PAN routing directly to one of its own children.
	assert.Equal(t, addr.CID(1), tr.NextHop(1, addr.PANCID, addr.PANCID))
}

func TestSubtreeAndChildren(t *testing.T) {
	var tr = buildSampleTree()
	var sub = tr.Subtree(1)
	require.Len(t, sub, 2) // {2,1} and {3,2}

	var children = tr.Children(addr.PANCID)
	assert.ElementsMatch(t, []addr.CID{1, 4}, children)
}

func TestMergeAppliesPairs(t *testing.T) {
	var tr = NewTree()
	tr.Merge([]Pair{{CID: 5, Parent: addr.PANCID}, {CID: 6, Parent: 5}})
	p, ok := tr.Parent(6)
	require.True(t, ok)
	assert.Equal(t, addr.CID(5), p)
}

func TestFragmentPairsRoundTrip(t *testing.T) {
	var pairs []Pair
	for i := 0; i < 45; i++ {
		pairs = append(pairs, Pair{CID: addr.CID(i), Parent: addr.CID(i / 2)})
	}
	var frags = FragmentPairs(pairs)
	require.Len(t, frags, 3) // 45 pairs / 20 per fragment, rounded up

	var r = &Reassembler{}
	var got []Pair
	var done bool
	for _, frag := range frags {
		got, done = r.Add(frag)
	}
	require.True(t, done)
	assert.Equal(t, pairs, got)
}

func TestFragmentPairsEmpty(t *testing.T) {
	assert.Nil(t, FragmentPairs(nil))
}

func TestReassemblerSingleFragmentCompletesImmediately(t *testing.T) {
	var pairs = []Pair{{CID: 1, Parent: 0}, {CID: 2, Parent: 1}}
	var frags = FragmentPairs(pairs)
	require.Len(t, frags, 1)

	var r = &Reassembler{}
	_, done := r.Add(frags[0])
	assert.True(t, done)
}
