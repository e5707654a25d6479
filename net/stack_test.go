package net

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/phy"
)

// fakeBus is an in-memory broadcast medium: every fakeNetPHY registered on
// it receives every other member's Send, mirroring the over-the-air
// broadcast nature of the real PHY (addressing and NID scoping are left
// entirely to LINK/NET, same as on real hardware).
type fakeBus struct {
	mu      sync.Mutex
	members []*fakeNetPHY
}

func (b *fakeBus) join(p *fakeNetPHY) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, p)
}

type fakeNetPHY struct {
	mu    sync.Mutex
	bus   *fakeBus
	sink  phy.Sink
	noise uint8
}

func (f *fakeNetPHY) Init(_ phy.Params, s phy.Sink) error { f.sink = s; return nil }
func (f *fakeNetPHY) Stop()                               {}
func (f *fakeNetPHY) SetChannel(byte) error                { return nil }
func (f *fakeNetPHY) SetBand(phy.Band) error               { return nil }
func (f *fakeNetPHY) SetBitrate(phy.Bitrate) error          { return nil }
func (f *fakeNetPHY) SetPower(phy.PowerLevel) error         { return nil }
func (f *fakeNetPHY) MeasuredNoise() uint8                  { return f.noise }

func (f *fakeNetPHY) Send(buf []byte) error {
	f.bus.mu.Lock()
	var peers = append([]*fakeNetPHY(nil), f.bus.members...)
	f.bus.mu.Unlock()
	for _, p := range peers {
		if p == f {
			continue
		}
		var cp = append([]byte(nil), buf...)
		p.sink.OnFrame(cp)
	}
	return nil
}

func newNetPHY(bus *fakeBus) *fakeNetPHY {
	var p = &fakeNetPHY{bus: bus}
	bus.join(p)
	return p
}

// newJoinedPair brings up a PAN and one end device over a shared bus, with
// the end device already joined to the fabric.
func newJoinedPair(t *testing.T, edidByte byte) (*Stack, *Stack) {
	t.Helper()
	var bus = &fakeBus{}

	var panCfg = DefaultConfig(PANRole, addr.EDID{})
	panCfg.DeviceTablePath = filepath.Join(t.TempDir(), "devices")
	var pan = NewStack(panCfg, newNetPHY(bus))
	require.NoError(t, pan.Start(phy.Params{}))
	pan.SetNID(addr.NID{0xAA, 0xBB, 0xCC, 0xDD})
	pan.JoiningEnable(30)

	var edEDID = addr.EDID{edidByte, edidByte, edidByte, edidByte}
	var edCfg = DefaultConfig(EndDeviceRole, edEDID)
	var ed = NewStack(edCfg, newNetPHY(bus))
	require.NoError(t, ed.Start(phy.Params{}))

	var done = make(chan bool, 1)
	go func() { done <- ed.Join() }()

	require.Eventually(t, func() bool {
		return pan.AcceptedDevice(edEDID)
	}, time.Second, time.Millisecond)

	require.True(t, <-done)
	require.True(t, ed.Joined())
	return pan, ed
}

func TestStackJoinEndToEnd(t *testing.T) {
	pan, ed := newJoinedPair(t, 7)
	assert.True(t, ed.Joined())
	var list = pan.DeviceList()
	require.Len(t, list, 1)
	kind, ok := list[addr.EDID{7, 7, 7, 7}.Uint64()]
	require.True(t, ok)
	assert.Equal(t, EndDeviceDeviceKind, kind)
}

func TestStackSendEndDeviceToPAN(t *testing.T) {
	pan, ed := newJoinedPair(t, 9)

	require.True(t, ed.Send(addr.PANCID, addr.EDID{}, []byte("hello")))

	payload, ok := pan.ReceivedData()
	require.True(t, ok)
	require.True(t, len(payload) >= 6)
	assert.Equal(t, byte(Data), payload[0])
	var srcEDID addr.EDID
	copy(srcEDID[:], payload[2:6])
	assert.Equal(t, addr.EDID{9, 9, 9, 9}, srcEDID)
	assert.Equal(t, []byte("hello"), payload[6:])
}

func TestStackSendPANToEndDevice(t *testing.T) {
	pan, ed := newJoinedPair(t, 3)

	var edEDID = addr.EDID{3, 3, 3, 3}
	require.True(t, pan.Send(addr.CID(0), edEDID, []byte("world")))

	payload, ok := ed.ReceivedData()
	require.True(t, ok)
	assert.Equal(t, []byte("world"), payload[6:])
}

func TestStackUnpairRemovesDevice(t *testing.T) {
	pan, _ := newJoinedPair(t, 4)
	var edEDID = addr.EDID{4, 4, 4, 4}

	require.True(t, pan.Unpair(edEDID))
	assert.Empty(t, pan.DeviceList())
	assert.False(t, pan.Unpair(edEDID), "unpairing an unknown device must fail")
}
