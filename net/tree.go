package net

import (
	"sync"

	"github.com/fitprotocol/fitp/addr"
)

// fragmentPayloadSize is the §4.7 fragment size: 40 bytes of {CID,
// parentCID} pairs per ROUTING_DATA fragment, i.e. 20 pairs.
const fragmentPayloadSize = 40
const pairsPerFragment = fragmentPayloadSize / 2

// Tree is the CID -> parent-CID routing table (§3). The PAN's copy is
// authoritative and rebuilt from the device table; every other
// coordinator's copy is a subtree-filtered mirror assembled from
// ROUTING_DATA fragments (§4.7).
type Tree struct {
	mu     sync.RWMutex
	parent [64]addr.CID
}

// NewTree returns a tree with every slot unoccupied except the PAN, which
// is always self-parented (§3).
func NewTree() *Tree {
	var t = &Tree{}
	for i := range t.parent {
		t.parent[i] = addr.InvalidCID
	}
	t.parent[addr.PANCID] = addr.PANCID
	return t
}

// Set records cid's parent.
func (t *Tree) Set(cid, parent addr.CID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parent[cid.Mask()] = parent.Mask()
}

// Parent returns cid's recorded parent, and whether the slot is occupied.
func (t *Tree) Parent(cid addr.CID) (addr.CID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var p = t.parent[cid.Mask()]
	return p, p != addr.InvalidCID
}

// NextHop implements §4.4's upward walk: destination CID 0 (the PAN)
// always resolves directly to myParent. Otherwise walk dest's ancestor
// chain; if myCID is encountered, dest is in my subtree and the next hop
// is the child immediately below myCID on that path; if the walk reaches
// the PAN without ever matching myCID, dest is not in my subtree and the
// next hop is upward, toward myParent. The loop is bounded by the CID
// space size (64) as a termination guard against a malformed tree.
func (t *Tree) NextHop(dest, myCID, myParent addr.CID) addr.CID {
	if dest.IsPAN() {
		return myParent
	}
	var x = dest.Mask()
	var previous = addr.InvalidCID
	for i := 0; i < 64; i++ {
		if x.Mask() == myCID.Mask() {
			return previous
		}
		previous = x
		parent, ok := t.Parent(x)
		if !ok {
			return myParent
		}
		if parent.IsPAN() && !myCID.IsPAN() {
			return myParent
		}
		x = parent
	}
	return myParent
}

// Subtree returns every {cid, parent} pair whose ancestor chain passes
// through root (root itself excluded), used to build the per-child
// ROUTING_DATA payload the PAN (or a relaying coordinator) disseminates
// downward (§4.7).
func (t *Tree) Subtree(root addr.CID) []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Pair
	for cid := addr.CID(0); cid < 64; cid++ {
		if cid == root || t.parent[cid] == addr.InvalidCID {
			continue
		}
		if t.isDescendantLocked(cid, root) {
			out = append(out, Pair{CID: cid, Parent: t.parent[cid]})
		}
	}
	return out
}

func (t *Tree) isDescendantLocked(cid, root addr.CID) bool {
	var x = cid
	for i := 0; i < 64; i++ {
		if x == root {
			return true
		}
		if x.IsPAN() {
			return false
		}
		x = t.parent[x]
		if x == addr.InvalidCID {
			return false
		}
	}
	return false
}

// Merge applies a set of {cid, parent} pairs received via ROUTING_DATA.
func (t *Tree) Merge(pairs []Pair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range pairs {
		t.parent[p.CID.Mask()] = p.Parent.Mask()
	}
}

// Children returns the direct children of cid.
func (t *Tree) Children(cid addr.CID) []addr.CID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []addr.CID
	for c := addr.CID(0); c < 64; c++ {
		if c != cid && t.parent[c] == cid.Mask() {
			out = append(out, c)
		}
	}
	return out
}

// Pair is one {CID, parent CID} entry in a routing table fragment.
type Pair struct {
	CID    addr.CID
	Parent addr.CID
}

// FragmentPairs splits pairs into ROUTING_DATA fragment payloads, each
// prefixed by {total_fragments<<4 | fragment_index} per §4.7.
func FragmentPairs(pairs []Pair) [][]byte {
	if len(pairs) == 0 {
		return nil
	}
	var total = (len(pairs) + pairsPerFragment - 1) / pairsPerFragment
	var frags = make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		var start = i * pairsPerFragment
		var end = start + pairsPerFragment
		if end > len(pairs) {
			end = len(pairs)
		}
		var buf = make([]byte, 0, 1+2*(end-start))
		buf = append(buf, byte(total)<<4|byte(i))
		for _, p := range pairs[start:end] {
			buf = append(buf, byte(p.CID.Mask()), byte(p.Parent.Mask()))
		}
		frags = append(frags, buf)
	}
	return frags
}

// Reassembler accumulates ROUTING_DATA fragments from one sender until
// every fragment up to total_fragments has arrived (§5: receivers must not
// act on a partial tree).
type Reassembler struct {
	mu       sync.Mutex
	total    int
	received map[int][]byte
}

// Add records fragment buf (still carrying its prefix byte) and reports
// the reassembled pair list once every fragment has arrived.
func (r *Reassembler) Add(buf []byte) ([]Pair, bool) {
	if len(buf) < 1 {
		return nil, false
	}
	var prefix = buf[0]
	var total = int(prefix >> 4)
	var index = int(prefix & 0xF)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.received == nil || r.total != total {
		r.received = make(map[int][]byte)
		r.total = total
	}
	r.received[index] = append([]byte(nil), buf[1:]...)
	if len(r.received) < total {
		return nil, false
	}

	var pairs []Pair
	for i := 0; i < total; i++ {
		var frag = r.received[i]
		for j := 0; j+1 < len(frag); j += 2 {
			pairs = append(pairs, Pair{CID: addr.CID(frag[j]), Parent: addr.CID(frag[j+1])})
		}
	}
	r.received = nil
	return pairs, true
}
