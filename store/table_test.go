package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
)

func TestAddLookupRemove(t *testing.T) {
	var table = New("")
	var ed = addr.EDID{1, 2, 3, 4}

	require.True(t, table.Add(Record{EDID: ed, Parent: 0, CID: 0, Coordinator: false}))
	rec, ok := table.Lookup(ed)
	require.True(t, ok)
	assert.Equal(t, addr.CID(0), rec.Parent)

	require.True(t, table.Remove(ed))
	_, ok = table.Lookup(ed)
	assert.False(t, ok)
}

func TestAddRejectsCIDCollision(t *testing.T) {
	var table = New("")
	var first = addr.EDID{1, 1, 1, 1}
	var second = addr.EDID{2, 2, 2, 2}

	require.True(t, table.Add(Record{EDID: first, Parent: 0, CID: 5, Coordinator: true}))
	assert.False(t, table.Add(Record{EDID: second, Parent: 0, CID: 5, Coordinator: true}))
}

func TestFreeCoordCID(t *testing.T) {
	var table = New("")
	require.True(t, table.Add(Record{EDID: addr.EDID{1}, CID: addr.MinCoordCID, Coordinator: true}))

	cid, ok := table.FreeCoordCID()
	require.True(t, ok)
	assert.Equal(t, addr.MinCoordCID+1, cid)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "devices")
	var table = New(path)

	require.True(t, table.Add(Record{EDID: addr.EDID{0xAA, 0xBB, 0xCC, 0xDD}, Parent: 1, CID: 0, Sleepy: true}))
	require.True(t, table.Add(Record{EDID: addr.EDID{1, 1, 1, 1}, Parent: 0, CID: 1, Coordinator: true}))
	table.Save()

	var reloaded = New(path)
	reloaded.Load()
	var records = reloaded.Records()
	require.Len(t, records, 2)

	rec, ok := reloaded.Lookup(addr.EDID{0xAA, 0xBB, 0xCC, 0xDD})
	require.True(t, ok)
	assert.True(t, rec.Sleepy)
	assert.Equal(t, addr.CID(1), rec.Parent)
}

func TestLoadMissingFileIsNonFatal(t *testing.T) {
	var table = New("/nonexistent/path/devices")
	table.Load()
	assert.Empty(t, table.Records())
}

func TestIsCoordinator(t *testing.T) {
	var table = New("")
	var ed = addr.EDID{7, 7, 7, 7}
	require.True(t, table.Add(Record{EDID: ed, CID: 9, Coordinator: true}))

	assert.True(t, table.IsCoordinator(ed, 9))
	assert.False(t, table.IsCoordinator(ed, 10))
}
