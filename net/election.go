package net

import (
	"sync"

	"github.com/fitprotocol/fitp/addr"
)

// tickElapsed reports whether at least windowTicks have passed since
// arrival, given the current 8-bit tick counter now. Using uint8
// subtraction makes the comparison modular by construction (§9's
// recommended fix over the original's ad-hoc overflow flags): tick 250
// plus a 30-tick window elapses at tick 24, wraparound included, with no
// special-casing at the call site.
func tickElapsed(arrival, windowTicks, now uint8) bool {
	return uint8(now-arrival) >= windowTicks
}

// overflowed reports whether arrival+windowTicks crosses the 8-bit
// boundary. Kept alongside the modular comparison above (which alone is
// sufficient for correctness) because candidate-table entries surface this
// flag to callers/tests as an explicit, inspectable fact about the entry,
// per spec §4.6/§8 property 10.
func overflowed(arrival, windowTicks uint8) bool {
	return int(arrival)+int(windowTicks) >= 256
}

// Candidate is one entry in a JOIN or MOVE election table (§3, §4.6, §4.8).
type Candidate struct {
	Valid       bool
	EDID        addr.EDID
	Parent      addr.CID
	RSSI        uint8
	DeviceType  byte
	ArrivalTick uint8
	WindowTicks uint8
	Overflowed  bool
}

// CandidateTable aggregates candidates for one kind of election (JOIN: 5
// slots, MOVE: 7 slots, §3) until a per-EDID election window elapses, then
// yields the strongest-RSSI entry.
type CandidateTable struct {
	mu    sync.Mutex
	slots []Candidate
}

// NewCandidateTable returns a table with the given slot capacity.
func NewCandidateTable(capacity int) *CandidateTable {
	return &CandidateTable{slots: make([]Candidate, capacity)}
}

// Add records a new candidate for edid. If this is the first candidate
// seen for edid, its arrival tick starts the election window; later
// candidates for the same edid are appended into any free slot without
// resetting the window. Returns false, dropping the candidate, if no slot
// is free, whether or not edid already has entries.
func (t *CandidateTable) Add(edid addr.EDID, parent addr.CID, rssi uint8, deviceType byte, now, windowTicks uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Reuse the window already running for this EDID's first arrival,
	// rather than restarting it on every subsequent candidate.
	var arrival = now
	for i := range t.slots {
		if t.slots[i].Valid && t.slots[i].EDID.Equal(edid) {
			arrival = t.slots[i].ArrivalTick
			windowTicks = t.slots[i].WindowTicks
			break
		}
	}
	for i := range t.slots {
		if !t.slots[i].Valid {
			t.slots[i] = Candidate{
				Valid: true, EDID: edid, Parent: parent, RSSI: rssi, DeviceType: deviceType,
				ArrivalTick: arrival, WindowTicks: windowTicks, Overflowed: overflowed(arrival, windowTicks),
			}
			return true
		}
	}
	return false
}

// Ready reports the EDIDs whose election window has elapsed as of now.
func (t *CandidateTable) Ready(now uint8) []addr.EDID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var seen = map[addr.EDID]bool{}
	var out []addr.EDID
	for _, c := range t.slots {
		if c.Valid && !seen[c.EDID] && tickElapsed(c.ArrivalTick, c.WindowTicks, now) {
			seen[c.EDID] = true
			out = append(out, c.EDID)
		}
	}
	return out
}

// Elect picks the strongest-RSSI candidate for edid and invalidates every
// entry for that EDID (§4.6: "invalidates all candidate entries for that
// EDID"), clearing the overflow flag along with the rest of the slot.
func (t *CandidateTable) Elect(edid addr.EDID) (Candidate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best Candidate
	var found bool
	for i := range t.slots {
		if !t.slots[i].Valid || !t.slots[i].EDID.Equal(edid) {
			continue
		}
		if !found || t.slots[i].RSSI > best.RSSI {
			best = t.slots[i]
			found = true
		}
	}
	if !found {
		return Candidate{}, false
	}
	for i := range t.slots {
		if t.slots[i].Valid && t.slots[i].EDID.Equal(edid) {
			t.slots[i] = Candidate{}
		}
	}
	return best, true
}
