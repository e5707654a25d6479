package net

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/fitprotocol/fitp/addr"
)

// TestTickElapsedWraparoundProperty is §8 property 10 generalized: for any
// arrival tick and any nonzero window, the election window elapses
// exactly at arrival+window (mod 256) and not one tick earlier, with the
// overflow flag set iff that sum crosses the 8-bit boundary.
func TestTickElapsedWraparoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var arrival = uint8(rapid.IntRange(0, 255).Draw(t, "arrival"))
		var window = uint8(rapid.IntRange(1, 255).Draw(t, "window"))

		var expiresAt = uint8(int(arrival) + int(window)) // mod 256 via uint8 wraparound
		if !tickElapsed(arrival, window, expiresAt) {
			t.Fatalf("arrival=%d window=%d: expected elapsed at %d", arrival, window, expiresAt)
		}
		if tickElapsed(arrival, window, expiresAt-1) {
			t.Fatalf("arrival=%d window=%d: expected not yet elapsed at %d", arrival, window, expiresAt-1)
		}

		var wantOverflow = int(arrival)+int(window) >= 256
		if overflowed(arrival, window) != wantOverflow {
			t.Fatalf("arrival=%d window=%d: overflowed()=%v, want %v", arrival, window, overflowed(arrival, window), wantOverflow)
		}
	})
}

// TestCandidateTableElectsStrongestRSSIProperty is §8 property 5
// generalized: whatever set of candidates arrives for one EDID within a
// window, Elect always picks the maximum-RSSI entry and clears every
// entry for that EDID afterward.
func TestCandidateTableElectsStrongestRSSIProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var table = NewCandidateTable(5)
		var edid = addr.EDID{1, 2, 3, 4}
		var n = rapid.IntRange(1, 5).Draw(t, "n")

		var bestRSSI uint8
		var bestParent addr.CID
		for i := 0; i < n; i++ {
			var rssi = uint8(rapid.IntRange(0, 255).Draw(t, "rssi"))
			var parent = addr.CID(rapid.IntRange(0, 0x3e).Draw(t, "parent"))
			if i == 0 || rssi > bestRSSI {
				bestRSSI = rssi
				bestParent = parent
			}
			if !table.Add(edid, parent, rssi, 0, 0, 30) {
				t.Fatalf("Add failed within declared capacity (i=%d)", i)
			}
		}

		winner, ok := table.Elect(edid)
		if !ok {
			t.Fatal("Elect found no winner for a populated EDID")
		}
		if winner.RSSI != bestRSSI || winner.Parent != bestParent {
			t.Fatalf("Elect picked rssi=%d parent=%v, want rssi=%d parent=%v", winner.RSSI, winner.Parent, bestRSSI, bestParent)
		}
		if _, ok := table.Elect(edid); ok {
			t.Fatal("Elect found a second winner after invalidation")
		}
	})
}
