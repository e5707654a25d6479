package link

import (
	"sync"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/internal/logging"
	"github.com/fitprotocol/fitp/phy"
)

var logger = logging.Component("link")

// normalExpiryTicks/busyExpiryTicks are the two expiry windows from §4.2: a
// normal retry waits 2 ticks, a BUSY backoff waits 3.
const (
	normalExpiryTicks uint8 = 2
	busyExpiryTicks   uint8 = 3
)

// Config mirrors the host API's LINK_init_t (§6): the one link-layer tuning
// knob exposed to callers.
type Config struct {
	MaxRetries int
}

// Upcalls is implemented by the network layer and driven by Link as frames
// complete their handshake, fail delivery, or turn out to be JOIN traffic.
type Upcalls interface {
	// Deliver hands a payload that has cleared the handshake (or arrived
	// NO_ACK/BROADCAST) up to NET for routing or local consumption.
	Deliver(sender addr.Addr, transfer TransferType, payload []byte)
	// SendDone fires once per successful HS4 send, after COMMIT_ACK.
	SendDone(dest addr.Addr)
	// TransmissionFailed fires when retries toward dest are exhausted.
	TransmissionFailed(dest addr.Addr, transfer TransferType)
	// JoinRequestHeard fires on a coordinator in pair mode that has just
	// ACKed a joiner's out-of-band JOIN_REQUEST; NET relays this upward as
	// JOIN_REQUEST_ROUTE.
	JoinRequestHeard(joiner addr.EDID, candidateParent addr.CID, deviceType JoinDeviceType, rssi uint8)
	// JoinAccepted fires on the joining device once it has validated and
	// adopted a JOIN_RESPONSE (§4.3 step 5).
	JoinAccepted(nid addr.NID, ownCID addr.CID, parentCID addr.CID)
}

// Link is the per-node link-layer engine: framing, the four-way handshake,
// TX/RX slot buffering, retry/expiry, BUSY, and out-of-band JOIN relay.
type Link struct {
	mu sync.Mutex

	kind    addr.Kind
	ownCID  addr.CID
	ownEDID addr.EDID
	nid     addr.NID
	nidSet  bool

	cfg Config
	phy phy.PHY
	up  Upcalls

	timer uint8

	tx []TXSlot
	rx []RXSlot

	pairMode bool

	join *joinerState
}

// New constructs a Link for a node of the given kind (coordinators,
// including the PAN, get 4 slots; end devices get 1, per §3).
func New(kind addr.Kind, ownEDID addr.EDID, cfg Config, p phy.PHY, up Upcalls) *Link {
	var cap = slotCapacity(kind)
	return &Link{
		kind:    kind,
		ownEDID: ownEDID,
		cfg:     cfg,
		phy:     p,
		up:      up,
		tx:      make([]TXSlot, cap),
		rx:      make([]RXSlot, cap),
	}
}

// Start brings up the PHY and registers Link as its frame/tick sink.
func (l *Link) Start(params phy.Params) error {
	return l.phy.Init(params, l)
}

func (l *Link) Stop() { l.phy.Stop() }

// SetNID adopts the fabric identifier, called directly by a PAN at startup
// or by a joining device on accepting a JOIN_RESPONSE.
func (l *Link) SetNID(nid addr.NID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nid = nid
	l.nidSet = true
}

func (l *Link) NID() addr.NID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nid
}

// SetOwnCID adopts the CID assigned at JOIN time (0 for end devices/PAN).
func (l *Link) SetOwnCID(cid addr.CID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownCID = cid
}

func (l *Link) OwnCID() addr.CID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ownCID
}

// SetPairMode flips the coordinator's willingness to answer out-of-band
// JOIN_REQUEST frames (§4.3, §4.6); the PAN sets this directly from
// joining_enable/disable, other coordinators from a PAIR_MODE_ENABLED
// broadcast their NET layer relays here.
func (l *Link) SetPairMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairMode = enabled
}

func selfAddr(kind addr.Kind, cid addr.CID, ed addr.EDID) addr.Addr {
	if kind == addr.EndDeviceKind {
		return addr.EndDevice(ed)
	}
	return addr.Coordinator(cid)
}

// --- sending ---------------------------------------------------------

// SendHS4 starts a reliable four-way-handshake send toward dest. It
// returns false immediately if no TX slot is free for dest (the caller —
// NET — should surface this as a send failure, matching the boolean-only
// error contract of §7).
func (l *Link) SendHS4(dest addr.Addr, payload []byte) bool {
	l.mu.Lock()

	if i := findTXSlot(l.tx, dest); i >= 0 {
		// A send is already outstanding to this destination; refuse the
		// new one rather than silently clobbering in-flight state.
		l.mu.Unlock()
		return false
	}
	var i = findFreeTXSlot(l.tx)
	if i < 0 {
		l.mu.Unlock()
		return false
	}

	l.tx[i] = TXSlot{
		Occupied:    true,
		Dest:        dest,
		Payload:     append([]byte(nil), payload...),
		State:       txDataSent,
		ExpiryTick:  l.timer + normalExpiryTicks,
		RetriesLeft: l.cfg.MaxRetries,
		Transfer:    HS4,
	}
	l.mu.Unlock()
	l.emitData(dest, HS4, payload)
	return true
}

// SendNoAck emits payload once, unacknowledged, with no slot allocation.
func (l *Link) SendNoAck(dest addr.Addr, payload []byte) bool {
	return l.emitData(dest, NoAck, payload) == nil
}

// SendBroadcast emits payload to every coordinator in range.
func (l *Link) SendBroadcast(payload []byte) bool {
	return l.emitData(addr.Coordinator(addr.BroadcastCID), Broadcast, payload) == nil
}

// emitData builds the frame under l.mu and hands it to the PHY with the lock
// released, like the receive paths, so a PHY that delivers the peer's reply
// back into OnFrame before Send returns does not deadlock.
func (l *Link) emitData(dest addr.Addr, transfer TransferType, payload []byte) error {
	l.mu.Lock()
	var f = l.buildFrame(DataPacket, dest, transfer, payload)
	l.mu.Unlock()
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	return l.phy.Send(buf)
}

func (l *Link) buildFrame(pt PacketType, dest addr.Addr, transfer TransferType, payload []byte) Frame {
	var f = Frame{
		Type:     pt,
		Transfer: transfer,
		NID:      l.nid,
		Payload:  payload,
	}
	if dest.IsEndDevice() {
		f.ToED = true
		f.DstED = dest.ED
	} else {
		f.DstCID = dest.Coord
	}
	if l.kind == addr.EndDeviceKind {
		f.AsED = true
		f.SrcED = l.ownEDID
	} else {
		f.SrcCID = l.ownCID
	}
	return f
}

// --- receiving ---------------------------------------------------------

// OnFrame is the PHY upcall (phy.Sink). It is driven by the PHY's receive
// thread and runs one frame to completion before the next is admitted, per
// §5's scheduling model.
func (l *Link) OnFrame(buf []byte) {
	f, err := Decode(buf)
	if err != nil {
		return // malformed: silently dropped, §4.9
	}

	if isJoinFamily(f.Transfer) {
		l.handleJoinFrame(f)
		return
	}

	l.mu.Lock()
	var nidOK = l.nidSet && f.NID == l.nid
	l.mu.Unlock()
	if !nidOK {
		return // scope: wrong NID, silently dropped, §4.9
	}

	switch f.Type {
	case DataPacket:
		l.handleData(f)
	case AckPacket:
		l.handleAck(f)
	case CommitPacket:
		l.handleCommit(f)
	case CommitAckPacket:
		l.handleCommitAck(f)
	}
}

func isJoinFamily(tt TransferType) bool {
	return tt == JoinRequest || tt == JoinResponse || tt == JoinAck
}

func (l *Link) handleData(f Frame) {
	switch f.Transfer {
	case NoAck, Broadcast:
		l.up.Deliver(f.SrcAddr(), f.Transfer, f.Payload)
		return
	case HS4:
		l.handleHS4Data(f)
	}
}

func (l *Link) handleHS4Data(f Frame) {
	l.mu.Lock()
	var sender = f.SrcAddr()
	var i = findRXSlot(l.rx, sender)
	if i < 0 {
		i = findFreeRXSlot(l.rx)
		if i < 0 {
			// No room: answer BUSY instead of dropping silently (§4.2).
			var ack = l.buildFrame(AckPacket, sender, Busy, nil)
			buf, _ := ack.Encode()
			l.mu.Unlock()
			logger.Debug("rx slots full, answering busy", "sender", sender)
			_ = l.phy.Send(buf)
			return
		}
		l.rx[i] = RXSlot{Occupied: true, Sender: sender, Transfer: f.Transfer, Frame: append([]byte(nil), f.Payload...)}
	}
	// Duplicate DATA from an already-occupied slot: re-emit ACK only, no
	// reinsertion and no second upcall (at-most-once delivery, §8.2).
	var ack = l.buildFrame(AckPacket, sender, HS4, nil)
	buf, _ := ack.Encode()
	l.mu.Unlock()
	_ = l.phy.Send(buf)
}

func (l *Link) handleAck(f Frame) {
	l.mu.Lock()
	var dest = f.SrcAddr() // the ACK came from our destination
	var i = findTXSlot(l.tx, dest)
	if i < 0 || l.tx[i].State != txDataSent {
		l.mu.Unlock()
		return
	}
	if f.Transfer == Busy {
		l.tx[i].RetriesLeft = l.cfg.MaxRetries
		l.tx[i].ExpiryTick = l.timer + busyExpiryTicks
		l.mu.Unlock()
		return
	}
	l.tx[i].State = txCommitSent
	l.tx[i].RetriesLeft = l.cfg.MaxRetries
	l.tx[i].ExpiryTick = l.timer + normalExpiryTicks
	var commit = l.buildFrame(CommitPacket, dest, HS4, l.tx[i].Payload)
	buf, _ := commit.Encode()
	l.mu.Unlock()
	_ = l.phy.Send(buf)
}

func (l *Link) handleCommit(f Frame) {
	l.mu.Lock()
	var sender = f.SrcAddr()
	var i = findRXSlot(l.rx, sender)
	var ackBuf []byte
	var deliver = false
	var payload []byte
	var transfer TransferType
	if i >= 0 {
		payload = l.rx[i].Frame
		transfer = l.rx[i].Transfer
		l.rx[i] = RXSlot{} // free the slot
		deliver = true
	}
	var ack = l.buildFrame(CommitAckPacket, sender, HS4, nil)
	ackBuf, _ = ack.Encode()
	l.mu.Unlock()

	_ = l.phy.Send(ackBuf)
	if deliver {
		l.up.Deliver(sender, transfer, payload)
	}
	// If i < 0 this is a duplicate COMMIT after the slot already freed:
	// COMMIT_ACK is still re-emitted above, with no second upcall.
}

func (l *Link) handleCommitAck(f Frame) {
	l.mu.Lock()
	var dest = f.SrcAddr()
	var i = findTXSlot(l.tx, dest)
	if i < 0 || l.tx[i].State != txCommitSent {
		l.mu.Unlock()
		return
	}
	l.tx[i] = TXSlot{}
	l.mu.Unlock()
	l.up.SendDone(dest)
}

// --- timer ---------------------------------------------------------

// OnTick is the PHY upcall fired at the ~20Hz cadence (§5). It advances
// the 8-bit timer counter and drives retry/expiry for every occupied TX
// slot.
func (l *Link) OnTick() {
	l.mu.Lock()
	l.timer++
	var now = l.timer
	type failure struct {
		dest     addr.Addr
		transfer TransferType
	}
	var failures []failure
	var retransmits [][]byte

	for i := range l.tx {
		if !l.tx[i].Occupied {
			continue
		}
		if l.tx[i].ExpiryTick != now {
			continue
		}
		if l.tx[i].RetriesLeft == 0 {
			failures = append(failures, failure{dest: l.tx[i].Dest, transfer: l.tx[i].Transfer})
			var lost = l.tx[i].Dest
			l.tx[i] = TXSlot{}
			// Purge every other TX slot toward the same unreachable peer.
			for j := range l.tx {
				if l.tx[j].Occupied && addrEqual(l.tx[j].Dest, lost) {
					l.tx[j] = TXSlot{}
				}
			}
			continue
		}
		l.tx[i].RetriesLeft--
		l.tx[i].ExpiryTick = now + normalExpiryTicks
		var pt = DataPacket
		if l.tx[i].State == txCommitSent {
			pt = CommitPacket
		}
		var frame = l.buildFrame(pt, l.tx[i].Dest, HS4, l.tx[i].Payload)
		buf, err := frame.Encode()
		if err == nil {
			retransmits = append(retransmits, buf)
		}
	}
	l.mu.Unlock()

	for _, buf := range retransmits {
		_ = l.phy.Send(buf)
	}
	for _, f := range failures {
		logger.Warn("transmission failed, retries exhausted", "dest", f.dest)
		l.up.TransmissionFailed(f.dest, f.transfer)
	}

	l.tickJoinSweep()
}
