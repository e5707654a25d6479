package net

import (
	"sync"
	"time"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/internal/logging"
	"github.com/fitprotocol/fitp/link"
	"github.com/fitprotocol/fitp/phy"
	"github.com/fitprotocol/fitp/store"
)

var logger = logging.Component("net")

// Role selects which of the three per-device capability sets (§9: "tagged
// variants over a shared capability set") a Stack exposes.
type Role int

const (
	PANRole Role = iota
	CoordinatorRole
	EndDeviceRole
)

// Config mirrors the host API's init(phy_cfg, link_cfg) (§6), plus the
// election/timeout windows expressed in ticks (50ms cadence, §5).
type Config struct {
	Role            Role
	OwnEDID         addr.EDID
	Link            link.Config
	DeviceTablePath string // PAN only; defaults to store.DefaultPath

	JoinWindowTicks  uint8 // pair-mode election window, derived from joining_enable's timeout_seconds
	MoveWindowTicks  uint8 // MAX_MOVE_DELAY, ~3s => 60 ticks
	DRAckDelayTicks  uint8 // MAX_DR_ACK_DELAY, ~200ms => 4 ticks
	DRDataDelayTicks uint8 // MAX_DR_DATA_DELAY, ~1s => 20 ticks
}

// DefaultConfig fills in the spec's stated timing constants (§4.5, §4.8).
func DefaultConfig(role Role, ownEDID addr.EDID) Config {
	return Config{
		Role:             role,
		OwnEDID:          ownEDID,
		Link:             link.Config{MaxRetries: 3},
		MoveWindowTicks:  60,
		DRAckDelayTicks:  4,
		DRDataDelayTicks: 20,
	}
}

// ReceivedMessage is one upward-delivered application message, shaped per
// §6: [msg_type, device_type, src_edid(4), payload...] once flattened by
// Encode.
type ReceivedMessage struct {
	DeviceType link.JoinDeviceType
	SrcEDID    addr.EDID
	Payload    []byte
}

// Encode renders m into the host API's received_data wire shape.
func (m ReceivedMessage) Encode() []byte {
	var buf = make([]byte, 0, 6+len(m.Payload))
	buf = append(buf, byte(Data), byte(m.DeviceType))
	buf = append(buf, m.SrcEDID[:]...)
	buf = append(buf, m.Payload...)
	return buf
}

// Stack is the per-node network-layer engine sitting on top of link.Link.
// It implements phy.Sink directly (registering ahead of Link in the
// upcall chain) and link.Upcalls (driving Link's sends and reacting to its
// handshake outcomes).
type Stack struct {
	mu sync.Mutex

	cfg  Config
	kind addr.Kind

	link *link.Link
	phy  phy.PHY

	nid      addr.NID
	ownCID   addr.CID
	parentCID addr.CID
	pairMode bool

	// PAN only.
	table *store.Table
	tree  *Tree
	joinCandidates *CandidateTable
	moveCandidates *CandidateTable
	mailbox        *Mailbox

	// Non-PAN coordinators mirror the subtree they've been sent.
	coordTree *Tree

	waitingMove bool
	moveTimeout uint8
	timer       uint8

	drState    drSleeperState
	drDeadline uint8

	recvMu   sync.Mutex
	recvCond *sync.Cond
	recvQ    []ReceivedMessage

	joinDoneCh chan bool

	reassemblyMu sync.Mutex
	reassembly   map[addr.CID]*Reassembler
}

// NewStack constructs a Stack of the configured role. p is the PHY
// instance; the caller must call Start to bring the stack up (registering
// Stack itself, not Link, as the PHY's sink — see Start).
func NewStack(cfg Config, p phy.PHY) *Stack {
	var kind = addr.EndDeviceKind
	if cfg.Role != EndDeviceRole {
		kind = addr.CoordKind
	}

	var s = &Stack{
		cfg:       cfg,
		kind:      kind,
		phy:       p,
		parentCID:  addr.InvalidCID,
		coordTree:  NewTree(),
		reassembly: make(map[addr.CID]*Reassembler),
	}
	s.recvCond = sync.NewCond(&s.recvMu)
	s.link = link.New(kind, cfg.OwnEDID, cfg.Link, p, s)

	if cfg.Role == PANRole {
		s.ownCID = addr.PANCID
		s.parentCID = addr.PANCID
		s.table = store.New(cfg.DeviceTablePath)
		s.table.Load()
		s.tree = NewTree()
		s.joinCandidates = NewCandidateTable(5)
		s.moveCandidates = NewCandidateTable(7)
		s.mailbox = &Mailbox{}
	}
	return s
}

// Start brings the stack up: it registers itself (not Link) as the PHY's
// frame/tick sink, so every upcall passes through Stack first.
func (s *Stack) Start(params phy.Params) error {
	return s.phy.Init(params, s)
}

func (s *Stack) Stop() { s.phy.Stop() }

// SetNID lets a PAN assign its fabric's NID explicitly before the first
// Join/JoiningEnable (SPEC_FULL supplemented feature, grounded in the
// original's fitp_set_nid).
func (s *Stack) SetNID(nid addr.NID) {
	if s.cfg.Role != PANRole {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nid = nid
	s.link.SetNID(nid)
}

// --- phy.Sink ---------------------------------------------------------

// OnFrame forwards to Link first (handshake/slot bookkeeping), which calls
// back into Stack's Upcalls methods as the handshake resolves.
func (s *Stack) OnFrame(buf []byte) { s.link.OnFrame(buf) }

// OnTick drives Link's retry/expiry, then the NET-level election windows,
// DR timeouts, and MOVE timeout.
func (s *Stack) OnTick() {
	s.link.OnTick()

	s.mu.Lock()
	s.timer++
	var now = s.timer
	s.mu.Unlock()

	if s.cfg.Role == PANRole {
		s.runJoinElection(now)
		s.runMoveElection(now)
	}
	s.runDRTimeout(now)
	s.runMoveTimeout(now)
}

// --- link.Upcalls ------------------------------------------------------

func (s *Stack) Deliver(sender addr.Addr, transfer link.TransferType, payload []byte) {
	fr, err := Decode(payload)
	if err != nil {
		return
	}
	s.handleInbound(sender, transfer, fr)
}

func (s *Stack) SendDone(addr.Addr) {}

func (s *Stack) TransmissionFailed(dest addr.Addr, _ link.TransferType) {
	// §4.2/§4.8: retries exhausted toward the parent triggers MOVE. An end
	// device starts MOVE on any failure; a coordinator only when dest is its
	// parent, so failures toward other peers (end-device descendants
	// included) just leave the purged TX slot behind.
	s.mu.Lock()
	var isParent = dest.Kind == addr.CoordKind && dest.Coord.Mask() == s.parentCID.Mask()
	s.mu.Unlock()
	if isParent || s.kind == addr.EndDeviceKind {
		s.startMove()
	}
}

func (s *Stack) JoinRequestHeard(joiner addr.EDID, candidateParent addr.CID, deviceType link.JoinDeviceType, rssi uint8) {
	if s.cfg.Role == PANRole {
		s.mu.Lock()
		var now = s.timer
		var window = s.cfg.JoinWindowTicks
		s.mu.Unlock()
		s.joinCandidates.Add(joiner, candidateParent, rssi, byte(deviceType), now, window)
		return
	}
	// Non-PAN coordinator: relay upward as JOIN_REQUEST_ROUTE.
	var fr = Frame{
		Type:    JoinRequestRoute,
		DstCID:  addr.PANCID,
		SrcCID:  s.ownCID,
		SrcEDID: joiner,
		Payload: []byte{byte(deviceType), rssi, byte(candidateParent)},
	}
	s.route(fr)
}

func (s *Stack) JoinAccepted(nid addr.NID, ownCID, parentCID addr.CID) {
	s.mu.Lock()
	s.nid = nid
	s.ownCID = ownCID
	s.parentCID = parentCID
	s.mu.Unlock()
	select {
	case s.joinDoneCh <- true:
	default:
	}
}

// --- routing helpers ---------------------------------------------------

func (s *Stack) myTree() *Tree {
	if s.cfg.Role == PANRole {
		return s.tree
	}
	return s.coordTree
}

func (s *Stack) route(fr Frame) {
	s.mu.Lock()
	var next = s.myTree().NextHop(fr.DstCID, s.ownCID, s.parentCID)
	s.mu.Unlock()
	s.link.SendHS4(addr.Coordinator(next), fr.Encode())
}

// handleInbound dispatches a decoded network frame delivered by Link,
// either consuming it locally or forwarding it toward its destination.
func (s *Stack) handleInbound(sender addr.Addr, transfer link.TransferType, fr Frame) {
	if s.kind == addr.EndDeviceKind {
		s.handleAtEndDevice(fr)
		return
	}
	switch fr.Type {
	case Data, AckDRWait, AckDRSleep, Unjoin:
		s.routeOrConsume(fr, transfer)
	case DataDR:
		s.handleDataDR(fr)
	case JoinRequestRoute:
		s.handleJoinRequestRoute(fr)
	case JoinResponseRoute:
		s.handleJoinResponseRoute(fr)
	case RoutingData:
		s.handleRoutingData(fr)
	case Extended:
		s.handleExtended(sender, fr)
	}
}

// routeOrConsume implements the shared downward-addressing shape (DstCID
// routes hop by hop, DstEDID names the final leaf, if any) used by Data,
// ACK_DR_WAIT/SLEEP and UNJOIN.
func (s *Stack) routeOrConsume(fr Frame, transfer link.TransferType) {
	s.mu.Lock()
	var mine = fr.DstCID.Mask() == s.ownCID.Mask()
	s.mu.Unlock()
	if !mine {
		s.route(fr)
		return
	}
	if fr.DstEDID != (addr.EDID{}) && !fr.DstEDID.IsBroadcast() {
		s.link.SendHS4(addr.EndDevice(fr.DstEDID), fr.Encode())
		return
	}
	s.consumeLocally(fr, transfer)
}

func (s *Stack) consumeLocally(fr Frame, _ link.TransferType) {
	switch fr.Type {
	case Data:
		s.enqueue(ReceivedMessage{SrcEDID: fr.SrcEDID, Payload: fr.Payload})
	case AckDRWait, AckDRSleep, Unjoin:
		// Only meaningful at an end device; a coordinator consuming these
		// directly (DstEDID empty) has nothing further to do.
	}
}

func (s *Stack) enqueue(m ReceivedMessage) {
	s.recvMu.Lock()
	s.recvQ = append(s.recvQ, m)
	s.recvCond.Signal()
	s.recvMu.Unlock()
}

// --- end-device inbound handling ---------------------------------------

func (s *Stack) handleAtEndDevice(fr Frame) {
	switch fr.Type {
	case Data:
		s.enqueue(ReceivedMessage{SrcEDID: fr.SrcEDID, Payload: fr.Payload})
		s.mu.Lock()
		s.drState = drDataReceived
		s.mu.Unlock()
	case AckDRWait:
		s.mu.Lock()
		s.drState = drDataWaiting
		s.drDeadline = s.timer + s.cfg.DRDataDelayTicks
		s.mu.Unlock()
	case AckDRSleep:
		s.mu.Lock()
		s.drState = drGoSleep
		s.mu.Unlock()
	case JoinResponseRoute:
		// translated to a direct JOIN_RESPONSE by LINK before NET sees it
		// in the normal path; tolerate it arriving here as a no-op.
	}
}

// --- DATA_DR (sleepy mailbox) -------------------------------------------

// SendDataRequest is called by a sleepy end device on waking (§4.5).
func (s *Stack) SendDataRequest() {
	s.mu.Lock()
	var fr = Frame{Type: DataDR, DstCID: addr.PANCID, SrcCID: 0, SrcEDID: s.cfg.OwnEDID}
	s.drState = drAckWaiting
	s.drDeadline = s.timer + s.cfg.DRAckDelayTicks
	s.mu.Unlock()
	s.link.SendNoAck(addr.Coordinator(s.parentCID), fr.Encode())
}

// runDRTimeout returns an idle-sleeping end device to drIdle once its
// current ACK_DR_WAIT/DATA deadline passes unanswered (§4.5: "failure
// paths return to idle after the respective timeout").
func (s *Stack) runDRTimeout(now uint8) {
	if s.kind != addr.EndDeviceKind {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drState != drIdle && now == s.drDeadline {
		s.drState = drIdle
	}
}

func (s *Stack) handleDataDR(fr Frame) {
	s.mu.Lock()
	var mine = fr.DstCID.Mask() == s.ownCID.Mask()
	s.mu.Unlock()
	if !mine {
		s.route(fr)
		return
	}
	if s.cfg.Role != PANRole {
		return
	}
	var data, has = s.mailbox.Take(fr.SrcEDID)
	rec, known := s.table.Lookup(fr.SrcEDID)
	if !known {
		return
	}
	if has {
		var ack = Frame{Type: AckDRWait, DstCID: rec.Parent, DstEDID: fr.SrcEDID, SrcCID: s.ownCID}
		s.link.SendHS4(addr.Coordinator(s.routeFor(rec.Parent)), ack.Encode())
		var deliver = Frame{Type: Data, DstCID: rec.Parent, DstEDID: fr.SrcEDID, SrcCID: s.ownCID, Payload: data}
		s.link.SendHS4(addr.Coordinator(s.routeFor(rec.Parent)), deliver.Encode())
		return
	}
	var sleep = Frame{Type: AckDRSleep, DstCID: rec.Parent, DstEDID: fr.SrcEDID, SrcCID: s.ownCID}
	s.link.SendHS4(addr.Coordinator(s.routeFor(rec.Parent)), sleep.Encode())
}

func (s *Stack) routeFor(destCID addr.CID) addr.CID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if destCID.Mask() == s.ownCID.Mask() {
		return destCID
	}
	return s.myTree().NextHop(destCID, s.ownCID, s.parentCID)
}

// --- JOIN election (PAN) -------------------------------------------------

func (s *Stack) handleJoinRequestRoute(fr Frame) {
	if len(fr.Payload) < 3 {
		return
	}
	var deviceType = fr.Payload[0]
	var rssi = fr.Payload[1]
	var candidateParent = addr.CID(fr.Payload[2])

	if s.cfg.Role != PANRole {
		s.route(fr)
		return
	}
	s.mu.Lock()
	var now = s.timer
	var window = s.cfg.JoinWindowTicks
	s.mu.Unlock()
	s.joinCandidates.Add(fr.SrcEDID, candidateParent, rssi, deviceType, now, window)
}

func (s *Stack) runJoinElection(now uint8) {
	for _, edid := range s.joinCandidates.Ready(now) {
		s.electJoin(edid)
	}
}

// AcceptedDevice commits a pending JOIN candidate immediately, without
// waiting for the election window (§6, SPEC_FULL supplemented feature).
func (s *Stack) AcceptedDevice(edid addr.EDID) bool {
	if s.cfg.Role != PANRole {
		return false
	}
	return s.electJoin(edid)
}

func (s *Stack) electJoin(edid addr.EDID) bool {
	winner, ok := s.joinCandidates.Elect(edid)
	if !ok {
		return false
	}
	var isCoord = winner.DeviceType == byte(link.CoordinatorDevice)
	var cid = addr.CID(0)
	if isCoord {
		free, ok := s.table.FreeCoordCID()
		if !ok {
			return false
		}
		cid = free
	}
	s.table.Add(store.Record{
		EDID: edid, CID: cid, Parent: winner.Parent,
		Sleepy:      winner.DeviceType == byte(link.SleepyEndDevice),
		Coordinator: isCoord,
	})
	s.table.Save()
	if isCoord {
		s.tree.Set(cid, winner.Parent)
	}

	if winner.Parent.Mask() == addr.PANCID {
		s.link.SendJoinResponseDirect(edid, s.nid, cid, winner.Parent)
	} else {
		var fr = Frame{Type: JoinResponseRoute, DstCID: winner.Parent, DstEDID: edid, SrcCID: addr.PANCID, Payload: append(append([]byte{}, s.nid[:]...), byte(cid), byte(winner.Parent))}
		s.route(fr) // route toward winner.Parent, which converts this to a direct JOIN_RESPONSE
	}
	s.disseminateRoutingTable()
	return true
}

// handleJoinResponseRoute runs on the elected parent coordinator, turning
// a routed JOIN_RESPONSE into a direct one to the joiner (§4.3 step 4).
func (s *Stack) handleJoinResponseRoute(fr Frame) {
	s.mu.Lock()
	var mine = fr.DstCID.Mask() == s.ownCID.Mask()
	s.mu.Unlock()
	if !mine {
		s.route(fr)
		return
	}
	if len(fr.Payload) < 6 {
		return
	}
	var nid addr.NID
	copy(nid[:], fr.Payload[0:4])
	var assignedCID = addr.CID(fr.Payload[4])
	var parentCID = addr.CID(fr.Payload[5])
	s.link.SendJoinResponseDirect(fr.DstEDID, nid, assignedCID, parentCID)
}

// --- MOVE (parent reacquisition) -----------------------------------------

func (s *Stack) startMove() {
	s.mu.Lock()
	if s.waitingMove {
		s.mu.Unlock()
		return
	}
	s.waitingMove = true
	s.moveTimeout = s.timer + s.cfg.MoveWindowTicks
	s.mu.Unlock()
	s.broadcastMoveRequest()
}

func (s *Stack) broadcastMoveRequest() {
	var fr = Frame{Type: Extended, Ext: MoveRequest, SrcCID: s.ownCID, SrcEDID: s.cfg.OwnEDID}
	s.link.SendBroadcast(fr.Encode())
}

func (s *Stack) runMoveTimeout(now uint8) {
	s.mu.Lock()
	var waiting = s.waitingMove
	var expired = waiting && now == s.moveTimeout
	s.mu.Unlock()
	if expired {
		s.broadcastMoveRequest()
		s.mu.Lock()
		s.moveTimeout = s.timer + s.cfg.MoveWindowTicks
		s.mu.Unlock()
	}
}

func (s *Stack) handleExtended(sender addr.Addr, fr Frame) {
	switch fr.Ext {
	case MoveRequest:
		if sender.Kind != addr.CoordKind {
			return
		}
		var rssi = s.phy.MeasuredNoise()
		var relay = Frame{Type: Extended, Ext: MoveRequestRoute, DstCID: addr.PANCID, SrcCID: s.ownCID, SrcEDID: fr.SrcEDID, Payload: []byte{rssi, byte(s.ownCID)}}
		s.route(relay)
	case MoveRequestRoute:
		if s.cfg.Role != PANRole || len(fr.Payload) < 2 {
			return
		}
		var rssi = fr.Payload[0]
		var candidate = addr.CID(fr.Payload[1])
		s.mu.Lock()
		var now = s.timer
		var window = s.cfg.MoveWindowTicks
		s.mu.Unlock()
		s.moveCandidates.Add(fr.SrcEDID, candidate, rssi, 0, now, window)
	case MoveResponse, MoveResponseRoute:
		s.handleMoveResponse(fr)
	case PairModeEnabled:
		if len(fr.Payload) >= 1 {
			s.SetPairMode(true)
		}
	}
}

func (s *Stack) runMoveElection(now uint8) {
	for _, edid := range s.moveCandidates.Ready(now) {
		winner, ok := s.moveCandidates.Elect(edid)
		if !ok {
			continue
		}
		rec, known := s.table.Lookup(edid)
		if !known {
			continue
		}
		rec.Parent = winner.Parent
		s.table.Add(rec)
		s.table.Save()
		s.tree.Set(rec.CID, winner.Parent)

		if winner.Parent.Mask() == addr.PANCID {
			var direct = Frame{Type: Extended, Ext: MoveResponse, DstCID: rec.CID, SrcCID: addr.PANCID, Payload: []byte{byte(winner.Parent)}}
			s.link.SendHS4(addr.Coordinator(rec.CID), direct.Encode())
		} else {
			var routed = Frame{Type: Extended, Ext: MoveResponseRoute, DstCID: winner.Parent, SrcCID: addr.PANCID, SrcEDID: edid, Payload: []byte{byte(rec.CID), byte(winner.Parent)}}
			s.route(routed)
		}
		s.disseminateRoutingTable()
	}
}

func (s *Stack) handleMoveResponse(fr Frame) {
	if len(fr.Payload) < 1 {
		return
	}
	if fr.Ext == MoveResponseRoute {
		if len(fr.Payload) < 2 {
			return
		}
		var movedCID = addr.CID(fr.Payload[0])
		var newParent = addr.CID(fr.Payload[1])
		var direct = Frame{Type: Extended, Ext: MoveResponse, DstCID: movedCID, SrcCID: s.ownCID, Payload: []byte{byte(newParent)}}
		s.link.SendHS4(addr.Coordinator(movedCID), direct.Encode())
		return
	}
	var newParent = addr.CID(fr.Payload[0])
	s.mu.Lock()
	s.parentCID = newParent
	s.waitingMove = false
	s.mu.Unlock()
	s.myTree().Set(s.ownCID, newParent)
}

// --- routing-table dissemination (§4.7) ----------------------------------

func (s *Stack) disseminateRoutingTable() {
	if s.cfg.Role != PANRole {
		return
	}
	for _, child := range s.tree.Children(addr.PANCID) {
		s.sendSubtreeTo(s.tree, child)
	}
}

// sendSubtreeTo emits child's subtree as fragmented ROUTING_DATA (§4.7).
// Called by the PAN disseminating from its authoritative tree, and by any
// coordinator recursively forwarding from its mirrored copy.
func (s *Stack) sendSubtreeTo(tree *Tree, child addr.CID) {
	var pairs = tree.Subtree(child)
	for _, fragBuf := range FragmentPairs(pairs) {
		var fr = Frame{Type: RoutingData, DstCID: child, SrcCID: s.ownCID, Payload: fragBuf}
		s.link.SendNoAck(addr.Coordinator(child), fr.Encode())
	}
}

func (s *Stack) handleRoutingData(fr Frame) {
	s.reassemblyMu.Lock()
	var r = s.reassembly[fr.SrcCID]
	if r == nil {
		r = &Reassembler{}
		s.reassembly[fr.SrcCID] = r
	}
	s.reassemblyMu.Unlock()

	pairs, done := r.Add(fr.Payload)
	if !done {
		return
	}
	s.coordTree.Merge(pairs)

	for _, child := range s.coordTree.Children(s.ownCID) {
		s.sendSubtreeTo(s.coordTree, child)
	}
}

// --- host API (§6) -------------------------------------------------------

// Send routes an application payload toward to_cid/to_edid, matching
// §6's `send(to_cid, to_edid, data, len) -> bool`; to_cid == BroadcastCID
// sends to every coordinator (§8 property 8).
func (s *Stack) Send(toCID addr.CID, toEDID addr.EDID, data []byte) bool {
	if toCID.IsBroadcast() {
		var fr = Frame{Type: Data, DstCID: addr.BroadcastCID, DstEDID: toEDID, SrcEDID: s.cfg.OwnEDID, Payload: data}
		return s.link.SendBroadcast(fr.Encode())
	}

	if s.cfg.Role == PANRole && toEDID != (addr.EDID{}) {
		if rec, ok := s.table.Lookup(toEDID); ok && rec.Sleepy {
			return s.mailbox.Put(toEDID, data)
		}
	}

	var fr = Frame{Type: Data, DstCID: toCID, DstEDID: toEDID, SrcEDID: s.cfg.OwnEDID, Payload: data}
	if s.kind == addr.EndDeviceKind {
		return s.link.SendHS4(addr.Coordinator(s.parentCID), fr.Encode())
	}

	s.mu.Lock()
	var mine = toCID.Mask() == s.ownCID.Mask()
	s.mu.Unlock()
	if mine && toEDID != (addr.EDID{}) && !toEDID.IsBroadcast() {
		return s.link.SendHS4(addr.EndDevice(toEDID), fr.Encode())
	}
	var next = s.routeFor(toCID)
	return s.link.SendHS4(addr.Coordinator(next), fr.Encode())
}

// Join starts (or, for a PAN, is a no-op for) the JOIN handshake (§6).
func (s *Stack) Join() bool {
	if s.cfg.Role == PANRole {
		return true // the PAN is always joined to itself
	}
	s.joinDoneCh = make(chan bool, 1)
	s.link.StartJoin(addr.BroadcastCID, deviceTypeFor(s.cfg.Role))
	select {
	case <-s.joinDoneCh:
		return true
	case <-time.After(5 * time.Second):
		s.link.StopJoin()
		return false
	}
}

func deviceTypeFor(role Role) link.JoinDeviceType {
	if role == CoordinatorRole {
		return link.CoordinatorDevice
	}
	return link.ReadyEndDevice
}

// Joined reports whether this device has a NID (§6).
func (s *Stack) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nid != (addr.NID{}) || s.cfg.Role == PANRole
}

// JoiningEnable flips pair mode on, PAN only, sets the JOIN election window
// from timeoutSeconds (capped at 255 ticks), and broadcasts
// PAIR_MODE_ENABLED carrying timeoutSeconds (§4.3, §6). Pair mode does not
// expire: it stays on until JoiningDisable, and coordinators that receive
// the broadcast turn pair mode on without a countdown.
func (s *Stack) JoiningEnable(timeoutSeconds int) bool {
	if s.cfg.Role != PANRole {
		return false
	}
	s.SetPairMode(true)
	s.mu.Lock()
	s.cfg.JoinWindowTicks = secondsToTicks(timeoutSeconds)
	s.mu.Unlock()
	var fr = Frame{Type: Extended, Ext: PairModeEnabled, SrcCID: addr.PANCID, Payload: []byte{byte(timeoutSeconds)}}
	s.link.SendBroadcast(fr.Encode())
	return true
}

func secondsToTicks(seconds int) uint8 {
	var ticks = seconds * 20 // 50ms cadence, §5
	if ticks > 255 {
		ticks = 255
	}
	return uint8(ticks)
}

// JoiningDisable turns pair mode off, PAN only.
func (s *Stack) JoiningDisable() {
	if s.cfg.Role == PANRole {
		s.SetPairMode(false)
	}
}

// Listen is the host-facing alias for JoiningEnable (§6).
func (s *Stack) Listen(timeoutSeconds int) bool { return s.JoiningEnable(timeoutSeconds) }

// SetPairMode flips pair mode on this node's Link and, for non-PAN
// coordinators, is driven by a received PAIR_MODE_ENABLED broadcast rather
// than called directly by the application.
func (s *Stack) SetPairMode(enabled bool) {
	s.mu.Lock()
	s.pairMode = enabled
	s.mu.Unlock()
	s.link.SetPairMode(enabled)
}

// Unpair removes edid from the device table, persists it, and recomputes
// the routing tree. PAN only (§6).
func (s *Stack) Unpair(edid addr.EDID) bool {
	if s.cfg.Role != PANRole {
		return false
	}
	if !s.table.Remove(edid) {
		return false
	}
	s.table.Save()
	s.rebuildTreeFromTable()
	s.disseminateRoutingTable()
	return true
}

func (s *Stack) rebuildTreeFromTable() {
	var fresh = NewTree()
	for _, rec := range s.table.Records() {
		if rec.Coordinator {
			fresh.Set(rec.CID, rec.Parent)
		}
	}
	s.mu.Lock()
	s.tree = fresh
	s.mu.Unlock()
}

// ReceivedData blocks up to 5s for one queued application message (§5,
// §6), matching the condition-variable-backed queue the teacher uses for
// its own application-facing frame delivery.
func (s *Stack) ReceivedData() ([]byte, bool) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	var done = make(chan struct{})
	var timedOut bool
	var timer = time.AfterFunc(5*time.Second, func() {
		s.recvMu.Lock()
		timedOut = true
		s.recvCond.Broadcast()
		s.recvMu.Unlock()
		close(done)
	})
	defer timer.Stop()

	for len(s.recvQ) == 0 && !timedOut {
		s.recvCond.Wait()
	}
	if len(s.recvQ) == 0 {
		return nil, false
	}
	var m = s.recvQ[0]
	s.recvQ = s.recvQ[1:]
	return m.Encode(), true
}

// DeviceKind distinguishes DeviceList's two reported categories (§6).
type DeviceKind int

const (
	EndDeviceDeviceKind DeviceKind = iota
	CoordinatorDeviceKind
)

// RotateDeviceTable writes a timestamped snapshot of the device table
// alongside its live path (SPEC_FULL's StackConfig.RotateDeviceTable), a
// no-op off the PAN.
func (s *Stack) RotateDeviceTable(at time.Time) error {
	if s.cfg.Role != PANRole {
		return nil
	}
	return s.table.Rotate(at)
}

// DeviceList returns every known device keyed by its EDID packed as a
// uint64 (§6). PAN only.
func (s *Stack) DeviceList() map[uint64]DeviceKind {
	var out = make(map[uint64]DeviceKind)
	if s.cfg.Role != PANRole {
		return out
	}
	for _, rec := range s.table.Records() {
		var kind = EndDeviceDeviceKind
		if rec.Coordinator {
			kind = CoordinatorDeviceKind
		}
		out[rec.EDID.Uint64()] = kind
	}
	return out
}
