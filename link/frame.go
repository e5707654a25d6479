// Package link implements the fabric's link layer: frame encoding, the
// four-way handshake (DATA/ACK/COMMIT/COMMIT_ACK), per-destination TX/RX
// slot buffering, retry and expiry, BUSY backoff, and out-of-band JOIN
// relay (spec §4.1-4.3).
package link

import (
	"errors"

	"github.com/fitprotocol/fitp/addr"
)

// PacketType is the 2-bit packet type packed into ctrl.
type PacketType byte

const (
	DataPacket PacketType = 0
	CommitPacket PacketType = 1
	AckPacket PacketType = 2
	CommitAckPacket PacketType = 3
)

// TransferType is the 4-bit transfer type packed into ctrl.
type TransferType byte

const (
	HS4 TransferType = 0
	NoAck TransferType = 1
	Broadcast TransferType = 2
	JoinRequest TransferType = 3
	JoinResponse TransferType = 4
	JoinAck TransferType = 5
	Busy TransferType = 8
)

// HeaderSize is the fixed link header length: ctrl(1) + NID(4) + addr pair
// (either 1+4 or 4+1).
const HeaderSize = 10

// MaxPayload is the largest link payload a frame may carry (§6: 63 byte
// PHY payload minus the 10 byte link header).
const MaxPayload = 63 - HeaderSize

var (
	ErrShortFrame        = errors.New("link: frame shorter than header")
	ErrEndToEndForbidden = errors.New("link: end-device to end-device addressing is forbidden")
)

// ctrl bit layout, low to high: packet_type(2) | to_ed(1) | as_ed(1) | transfer_type(4)
const (
	ctrlPacketTypeShift = 0
	ctrlPacketTypeMask  = 0x3
	ctrlToEDBit         = 1 << 2
	ctrlAsEDBit         = 1 << 3
	ctrlTransferShift   = 4
	ctrlTransferMask    = 0xF
)

func packCtrl(pt PacketType, toED, asED bool, tt TransferType) byte {
	var c = byte(pt&ctrlPacketTypeMask) << ctrlPacketTypeShift
	if toED {
		c |= ctrlToEDBit
	}
	if asED {
		c |= ctrlAsEDBit
	}
	c |= byte(tt&ctrlTransferMask) << ctrlTransferShift
	return c
}

func unpackCtrl(c byte) (pt PacketType, toED, asED bool, tt TransferType) {
	pt = PacketType((c >> ctrlPacketTypeShift) & ctrlPacketTypeMask)
	toED = c&ctrlToEDBit != 0
	asED = c&ctrlAsEDBit != 0
	tt = TransferType((c >> ctrlTransferShift) & ctrlTransferMask)
	return
}

// Frame is a decoded link-layer frame. Dst/Src follow the §4.1 addressing
// rule: when ToED is set, Dst carries an EDID and Src a CID; otherwise Dst
// carries a CID and Src is a CID (COORD->COORD) or an EDID (AsED, ED->parent).
type Frame struct {
	Type     PacketType
	ToED     bool
	AsED     bool
	Transfer TransferType
	NID      addr.NID
	DstCID   addr.CID
	DstED    addr.EDID
	SrcCID   addr.CID
	SrcED    addr.EDID
	Payload  []byte
}

// DstAddr renders the frame's destination as a tagged Addr.
func (f Frame) DstAddr() addr.Addr {
	if f.ToED {
		return addr.EndDevice(f.DstED)
	}
	return addr.Coordinator(f.DstCID)
}

// SrcAddr renders the frame's source as a tagged Addr.
func (f Frame) SrcAddr() addr.Addr {
	if f.AsED {
		return addr.EndDevice(f.SrcED)
	}
	return addr.Coordinator(f.SrcCID)
}

// Encode serializes f into a wire buffer suitable for PHY.Send.
func (f Frame) Encode() ([]byte, error) {
	if f.ToED && f.AsED {
		return nil, ErrEndToEndForbidden
	}
	var buf = make([]byte, 0, HeaderSize+len(f.Payload))
	buf = append(buf, packCtrl(f.Type, f.ToED, f.AsED, f.Transfer))
	buf = append(buf, f.NID[:]...)

	if f.ToED {
		buf = append(buf, f.DstED[:]...)
		buf = append(buf, byte(f.SrcCID.Mask()))
	} else if f.AsED {
		buf = append(buf, byte(f.DstCID.Mask()))
		buf = append(buf, f.SrcED[:]...)
	} else {
		buf = append(buf, byte(f.DstCID.Mask()))
		buf = append(buf, byte(f.SrcCID.Mask()))
		// COORD->COORD: src is a single CID byte; pad remaining 3 address
		// bytes with zero so the header is still HeaderSize bytes long.
		buf = append(buf, 0, 0, 0)
	}
	buf = append(buf, f.Payload...)
	return buf, nil
}

// Decode parses a wire buffer into a Frame. It does not filter by NID; the
// NID check is made by Link.OnFrame, which skips it for the JOIN family,
// carried before the receiver knows the fabric's NID (§4.3).
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 1+4+2 {
		return Frame{}, ErrShortFrame
	}
	var f Frame
	pt, toED, asED, tt := unpackCtrl(buf[0])
	f.Type, f.ToED, f.AsED, f.Transfer = pt, toED, asED, tt
	copy(f.NID[:], buf[1:5])

	rest := buf[5:]
	if toED {
		if len(rest) < 5 {
			return Frame{}, ErrShortFrame
		}
		copy(f.DstED[:], rest[0:4])
		f.SrcCID = addr.CID(rest[4]).Mask()
		rest = rest[5:]
	} else if asED {
		if len(rest) < 5 {
			return Frame{}, ErrShortFrame
		}
		f.DstCID = addr.CID(rest[0]).Mask()
		copy(f.SrcED[:], rest[1:5])
		rest = rest[5:]
	} else {
		if len(rest) < 5 {
			return Frame{}, ErrShortFrame
		}
		f.DstCID = addr.CID(rest[0]).Mask()
		f.SrcCID = addr.CID(rest[1]).Mask()
		rest = rest[5:]
	}
	f.Payload = rest
	return f, nil
}
