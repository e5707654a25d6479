package link

import "github.com/fitprotocol/fitp/addr"

// JoinDeviceType is carried in the out-of-band JOIN_REQUEST payload so the
// PAN's election (§4.6) knows what kind of slot to allocate.
type JoinDeviceType byte

const (
	ReadyEndDevice    JoinDeviceType = 0
	SleepyEndDevice   JoinDeviceType = 1
	CoordinatorDevice JoinDeviceType = 2
)

// joinChannelCount is the width of the channel sweep (§4.3: channels 0..31).
const joinChannelCount = 32

// joinerState tracks a joining device's channel sweep and the table of
// coordinator CIDs it has heard a JOIN_ACK from, which is later used to
// validate the source of the eventual JOIN_RESPONSE.
type joinerState struct {
	desiredParent addr.CID
	deviceType    JoinDeviceType
	channel       byte
	heardAcks     map[addr.CID]bool
}

// StartJoin begins the out-of-band channel sweep (§4.3 step 1). desiredParent
// may be addr.BroadcastCID to mean "any coordinator in pair mode".
func (l *Link) StartJoin(desiredParent addr.CID, deviceType JoinDeviceType) {
	l.mu.Lock()
	l.join = &joinerState{
		desiredParent: desiredParent,
		deviceType:    deviceType,
		heardAcks:     make(map[addr.CID]bool),
	}
	l.mu.Unlock()
	l.sendJoinRequest()
}

// StopJoin abandons an in-progress join attempt (caller-driven timeout).
func (l *Link) StopJoin() {
	l.mu.Lock()
	l.join = nil
	l.mu.Unlock()
}

// Joining reports whether a join attempt is in progress.
func (l *Link) Joining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.join != nil
}

func (l *Link) sendJoinRequest() {
	l.mu.Lock()
	var j = l.join
	if j == nil {
		l.mu.Unlock()
		return
	}
	var f = Frame{
		Type:     DataPacket,
		Transfer: JoinRequest,
		AsED:     true,
		SrcED:    l.ownEDID,
		DstCID:   j.desiredParent,
		Payload:  append([]byte{byte(j.deviceType)}, l.ownEDID[:]...),
	}
	l.mu.Unlock()

	buf, err := f.Encode()
	if err != nil {
		return
	}
	_ = l.phy.Send(buf)
}

// tickJoinSweep advances the channel sweep once per tick. The spec calls
// for ~25ms between sweeps; this stack's tick cadence is 50ms (§3, §5), so
// sweeping every tick is the closest fit without a second timer — the
// resulting join is slower by a constant factor, never incorrect.
func (l *Link) tickJoinSweep() {
	l.mu.Lock()
	var j = l.join
	if j == nil || len(j.heardAcks) > 0 {
		l.mu.Unlock()
		return
	}
	j.channel = byte((int(j.channel) + 1) % joinChannelCount)
	var ch = j.channel
	l.mu.Unlock()

	_ = l.phy.SetChannel(ch)
	l.sendJoinRequest()
}

// handleJoinFrame dispatches the three JOIN-family frame shapes. JOIN
// frames bypass the NID filter entirely (§4.9): the joiner doesn't know
// the fabric's NID yet, and a pair-mode coordinator must answer a joiner
// regardless of the NID it happens to be configured with.
func (l *Link) handleJoinFrame(f Frame) {
	switch {
	case f.Type == DataPacket && f.Transfer == JoinRequest:
		l.handleJoinRequest(f)
	case f.Type == AckPacket && f.Transfer == JoinAck:
		l.handleJoinAck(f)
	case f.Type == DataPacket && f.Transfer == JoinResponse:
		l.handleJoinResponse(f)
	}
}

// handleJoinRequest is the coordinator side: answer ACK|JOIN_ACK
// immediately if pair mode is enabled, then let NET relay a
// JOIN_REQUEST_ROUTE upward.
func (l *Link) handleJoinRequest(f Frame) {
	l.mu.Lock()
	var pairMode = l.pairMode
	var ownCID = l.ownCID
	l.mu.Unlock()
	if !pairMode {
		return // rejected: JOIN outside pair mode, §7
	}
	if !f.DstCID.IsBroadcast() && f.DstCID.Mask() != ownCID.Mask() {
		return // joiner asked for a specific parent that isn't us
	}
	if len(f.Payload) < 5 {
		return
	}
	var deviceType = JoinDeviceType(f.Payload[0])
	var joinerEDID addr.EDID
	copy(joinerEDID[:], f.Payload[1:5])

	var ack = Frame{
		Type:     AckPacket,
		Transfer: JoinAck,
		ToED:     true,
		DstED:    joinerEDID,
		SrcCID:   ownCID,
	}
	buf, err := ack.Encode()
	if err == nil {
		_ = l.phy.Send(buf)
	}

	l.up.JoinRequestHeard(joinerEDID, ownCID, deviceType, l.phy.MeasuredNoise())
}

func (l *Link) handleJoinAck(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var j = l.join
	if j == nil || !f.DstED.Equal(l.ownEDID) {
		return
	}
	j.heardAcks[f.SrcCID.Mask()] = true
}

// JoinResponsePayloadLen is NID(4) + assigned CID(1) + parent CID(1).
const JoinResponsePayloadLen = 6

func (l *Link) handleJoinResponse(f Frame) {
	l.mu.Lock()
	var j = l.join
	if j == nil || !j.heardAcks[f.SrcCID.Mask()] {
		l.mu.Unlock()
		return
	}
	if len(f.Payload) < JoinResponsePayloadLen {
		l.mu.Unlock()
		return
	}
	var nid addr.NID
	copy(nid[:], f.Payload[0:4])
	var assignedCID = addr.CID(f.Payload[4])
	var parentCID = addr.CID(f.Payload[5])

	l.nid = nid
	l.nidSet = true
	l.ownCID = assignedCID
	l.join = nil
	l.mu.Unlock()

	l.up.JoinAccepted(nid, assignedCID, parentCID)
}

// SendJoinResponseDirect emits the final out-of-band JOIN_RESPONSE to a
// joiner, called by NET on whichever coordinator is the elected parent
// (directly on the PAN, or after converting a routed JOIN_RESPONSE_ROUTE,
// §4.3 step 4).
func (l *Link) SendJoinResponseDirect(joiner addr.EDID, nid addr.NID, assignedCID, parentCID addr.CID) bool {
	l.mu.Lock()
	var ownCID = l.ownCID
	l.mu.Unlock()

	var f = Frame{
		Type:     DataPacket,
		Transfer: JoinResponse,
		ToED:     true,
		DstED:    joiner,
		SrcCID:   ownCID,
		Payload:  append(append([]byte{}, nid[:]...), byte(assignedCID), byte(parentCID)),
	}
	buf, err := f.Encode()
	if err != nil {
		return false
	}
	return l.phy.Send(buf) == nil
}
