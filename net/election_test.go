package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
)

func TestTickElapsedWraparound(t *testing.T) {
	assert.True(t, tickElapsed(250, 30, 24)) // wraps past 255 back to 24
	assert.False(t, tickElapsed(250, 30, 23))
	assert.True(t, overflowed(250, 30))
	assert.False(t, overflowed(10, 30))
}

func TestCandidateTableElectsStrongestRSSI(t *testing.T) {
	var tbl = NewCandidateTable(5)
	var ed = addr.EDID{1, 1, 1, 1}

	require.True(t, tbl.Add(ed, 1, 50, 0, 0, 10))
	require.True(t, tbl.Add(ed, 2, 90, 0, 1, 10)) // stronger signal, same EDID
	require.True(t, tbl.Add(ed, 3, 70, 0, 2, 10))

	assert.Empty(t, tbl.Ready(5), "election window has not elapsed yet")
	var ready = tbl.Ready(10)
	require.Len(t, ready, 1)
	assert.Equal(t, ed, ready[0])

	winner, ok := tbl.Elect(ed)
	require.True(t, ok)
	assert.Equal(t, addr.CID(2), winner.Parent)
	assert.Equal(t, uint8(90), winner.RSSI)

	_, ok = tbl.Elect(ed)
	assert.False(t, ok, "all entries for the EDID must be invalidated after election")
}

func TestCandidateTableIndependentEDIDWindows(t *testing.T) {
	var tbl = NewCandidateTable(5)
	var a = addr.EDID{1}
	var b = addr.EDID{2}

	require.True(t, tbl.Add(a, 1, 10, 0, 0, 5))
	require.True(t, tbl.Add(b, 1, 10, 0, 3, 5))

	var ready = tbl.Ready(7)
	assert.ElementsMatch(t, []addr.EDID{a}, ready)
}

func TestCandidateTableFullRejectsNewEDID(t *testing.T) {
	var tbl = NewCandidateTable(2)
	require.True(t, tbl.Add(addr.EDID{1}, 1, 1, 0, 0, 10))
	require.True(t, tbl.Add(addr.EDID{2}, 1, 1, 0, 0, 10))
	assert.False(t, tbl.Add(addr.EDID{3}, 1, 1, 0, 0, 10))
}
