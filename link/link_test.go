package link

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/phy"
)

// fakePHY is a minimal in-memory PHY double. Two fakePHYs can be linked via
// peer so that a Send on one calls OnFrame on the other synchronously,
// giving deterministic single-threaded handshake tests.
type fakePHY struct {
	mu     sync.Mutex
	sink   phy.Sink
	peer   *fakePHY
	sent   [][]byte
	noise  uint8
	silent bool // when true, Send never reaches peer (models a dead receiver)
}

func (f *fakePHY) Init(_ phy.Params, s phy.Sink) error { f.sink = s; return nil }
func (f *fakePHY) Stop()                               {}
func (f *fakePHY) SetChannel(byte) error                { return nil }
func (f *fakePHY) SetBand(phy.Band) error               { return nil }
func (f *fakePHY) SetBitrate(phy.Bitrate) error         { return nil }
func (f *fakePHY) SetPower(phy.PowerLevel) error        { return nil }
func (f *fakePHY) MeasuredNoise() uint8                 { return f.noise }

func (f *fakePHY) Send(buf []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, buf)
	var peer = f.peer
	var silent = f.silent
	f.mu.Unlock()

	if peer != nil && !silent {
		var cp = append([]byte(nil), buf...)
		peer.sink.OnFrame(cp)
	}
	return nil
}

type fakeUpcalls struct {
	mu           sync.Mutex
	delivered    int
	lastPayload  []byte
	sendDone     int
	failed       int
	failedDest   addr.Addr
	joinsHeard   int
	joinAccepted int
}

func (u *fakeUpcalls) Deliver(_ addr.Addr, _ TransferType, payload []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.delivered++
	u.lastPayload = payload
}
func (u *fakeUpcalls) SendDone(addr.Addr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sendDone++
}
func (u *fakeUpcalls) TransmissionFailed(dest addr.Addr, _ TransferType) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failed++
	u.failedDest = dest
}
func (u *fakeUpcalls) JoinRequestHeard(addr.EDID, addr.CID, JoinDeviceType, uint8) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.joinsHeard++
}
func (u *fakeUpcalls) JoinAccepted(addr.NID, addr.CID, addr.CID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.joinAccepted++
}

func newPair(t *testing.T) (*Link, *fakeUpcalls, *Link, *fakeUpcalls) {
	t.Helper()
	var senderPHY = &fakePHY{}
	var receiverPHY = &fakePHY{}
	senderPHY.peer = receiverPHY
	receiverPHY.peer = senderPHY

	var senderUp = &fakeUpcalls{}
	var receiverUp = &fakeUpcalls{}

	var sender = New(addr.EndDeviceKind, addr.EDID{1, 2, 3, 4}, Config{MaxRetries: 3}, senderPHY, senderUp)
	var receiver = New(addr.CoordKind, addr.EDID{}, Config{MaxRetries: 3}, receiverPHY, receiverUp)

	var nid = addr.NID{0xA1, 0, 0, 3}
	sender.SetNID(nid)
	receiver.SetNID(nid)
	receiver.SetOwnCID(0)

	require.NoError(t, sender.Start(phy.Params{}))
	require.NoError(t, receiver.Start(phy.Params{}))

	return sender, senderUp, receiver, receiverUp
}

func TestHandshakeLiveness(t *testing.T) {
	sender, senderUp, _, receiverUp := newPair(t)

	var ok = sender.SendHS4(addr.Coordinator(0), []byte("hi"))
	require.True(t, ok)

	assert.Equal(t, 1, receiverUp.delivered)
	assert.Equal(t, []byte("hi"), receiverUp.lastPayload)
	assert.Equal(t, 1, senderUp.sendDone)
}

func TestDuplicateDataSuppressed(t *testing.T) {
	sender, _, receiver, receiverUp := newPair(t)

	var f = Frame{
		Type: DataPacket, Transfer: HS4, AsED: true,
		SrcED: sender.ownEDID, DstCID: 0, NID: receiver.nid,
		Payload: []byte("hi"),
	}
	buf, err := f.Encode()
	require.NoError(t, err)

	receiver.OnFrame(buf)
	receiver.OnFrame(append([]byte(nil), buf...)) // duplicate DATA: must reuse the same RX slot, not allocate a second one

	for i := 0; i < 4; i++ {
		var other = Frame{
			Type: DataPacket, Transfer: HS4, AsED: true,
			SrcED: addr.EDID{byte(i + 10), 0, 0, 0}, DstCID: 0, NID: receiver.nid,
			Payload: []byte{1},
		}
		obuf, _ := other.Encode()
		receiver.OnFrame(obuf)
	}
	// With the duplicate correctly deduped, the original sender's slot plus
	// 3 of these 4 new senders fit in the 4-slot table; the 4th must be
	// answered BUSY rather than silently dropped.
	var last = receiver.phy.(*fakePHY).sent[len(receiver.phy.(*fakePHY).sent)-1]
	decoded, derr := Decode(last)
	require.NoError(t, derr)
	assert.Equal(t, Busy, decoded.Transfer)

	var commit = Frame{Type: CommitPacket, Transfer: HS4, AsED: true, SrcED: sender.ownEDID, DstCID: 0, NID: receiver.nid}
	cbuf, _ := commit.Encode()
	receiver.OnFrame(cbuf)

	assert.Equal(t, 1, receiverUp.delivered, "duplicate DATA must still yield exactly one delivery")
}

func TestDuplicateCommitAfterFree(t *testing.T) {
	_, _, receiver, receiverUp := newPair(t)
	var receiverPHY = receiver.phy.(*fakePHY)

	var joinerEDID = addr.EDID{9, 9, 9, 9}
	var data = Frame{Type: DataPacket, Transfer: HS4, AsED: true, SrcED: joinerEDID, DstCID: 0, NID: receiver.nid, Payload: []byte("x")}
	buf, _ := data.Encode()
	receiver.OnFrame(buf)

	var commit = Frame{Type: CommitPacket, Transfer: HS4, AsED: true, SrcED: joinerEDID, DstCID: 0, NID: receiver.nid}
	cbuf, _ := commit.Encode()

	receiver.OnFrame(cbuf)
	assert.Equal(t, 1, receiverUp.delivered)
	var sentAfterFirstCommit = len(receiverPHY.sent)

	receiver.OnFrame(append([]byte(nil), cbuf...)) // duplicate COMMIT after free
	assert.Equal(t, 1, receiverUp.delivered, "duplicate COMMIT must not re-deliver")
	assert.Greater(t, len(receiverPHY.sent), sentAfterFirstCommit, "COMMIT_ACK must be re-emitted")
}

func TestBusyWhenRXFull(t *testing.T) {
	var receiverPHY = &fakePHY{}
	var receiverUp = &fakeUpcalls{}
	var receiver = New(addr.CoordKind, addr.EDID{}, Config{MaxRetries: 3}, receiverPHY, receiverUp)
	var nid = addr.NID{1, 2, 3, 4}
	receiver.SetNID(nid)
	require.NoError(t, receiver.Start(phy.Params{}))

	// Fill all 4 RX slots with distinct senders.
	for i := 0; i < 4; i++ {
		var ed = addr.EDID{byte(i), 0, 0, 0}
		var f = Frame{Type: DataPacket, Transfer: HS4, AsED: true, SrcED: ed, DstCID: 0, NID: nid, Payload: []byte{1}}
		buf, _ := f.Encode()
		receiver.OnFrame(buf)
	}

	var overflow = addr.EDID{99, 0, 0, 0}
	var f = Frame{Type: DataPacket, Transfer: HS4, AsED: true, SrcED: overflow, DstCID: 0, NID: nid, Payload: []byte{1}}
	buf, _ := f.Encode()
	receiver.OnFrame(buf)

	var last = receiverPHY.sent[len(receiverPHY.sent)-1]
	decoded, err := Decode(last)
	require.NoError(t, err)
	assert.Equal(t, AckPacket, decoded.Type)
	assert.Equal(t, Busy, decoded.Transfer)
}

func TestRetryExhaustionTriggersFailureAndPurge(t *testing.T) {
	var senderPHY = &fakePHY{silent: true}
	var senderUp = &fakeUpcalls{}
	var sender = New(addr.CoordKind, addr.EDID{}, Config{MaxRetries: 2}, senderPHY, senderUp)
	sender.SetNID(addr.NID{1, 2, 3, 4})
	sender.SetOwnCID(5)
	require.NoError(t, sender.Start(phy.Params{}))

	require.True(t, sender.SendHS4(addr.Coordinator(1), []byte("a")))

	// ExpiryTick is set to now+2 on submission, and again after every
	// unacknowledged retry, until RetriesLeft reaches 0 and the slot fails
	// on the next hit: three 2-tick windows cover submission + 2 retries.
	for tick := 0; tick < 3*2; tick++ {
		sender.OnTick()
	}

	assert.Equal(t, 1, senderUp.failed)
	assert.Equal(t, addr.Coordinator(1), senderUp.failedDest)
	for _, slot := range sender.tx {
		assert.False(t, slot.Occupied, "the failed slot must be freed")
	}
}
