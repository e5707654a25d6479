// Package net implements the fabric's network layer (spec §4.4-4.8): tree
// routing, next-hop lookup, JOIN/MOVE election, the sleepy mailbox, and
// routing-table dissemination, orchestrated by Stack on top of link.Link.
package net

import (
	"errors"

	"github.com/fitprotocol/fitp/addr"
)

// MsgType is the network frame's primary message type, packed into byte 0's
// high nibble (§4.4).
type MsgType byte

const (
	Data              MsgType = 0x0
	DataDR            MsgType = 0x1
	JoinRequest       MsgType = 0x3
	AckDRWait         MsgType = 0x5
	AckDRSleep        MsgType = 0x6
	JoinResponse      MsgType = 0x7
	Unjoin            MsgType = 0x8
	JoinRequestRoute  MsgType = 0x9
	JoinResponseRoute MsgType = 0xC
	RoutingData       MsgType = 0xD
	Extended          MsgType = 0xF
)

// ExtType is the real message type carried in the 11th byte when Type is
// Extended; the MOVE family and PAIR_MODE_ENABLED don't fit in a 4-bit
// primary type (§4.4).
type ExtType byte

const (
	PairModeEnabled  ExtType = 0x10
	MoveRequest      ExtType = 0x30
	MoveResponse     ExtType = 0x40
	MoveRequestRoute ExtType = 0x50
	MoveResponseRoute ExtType = 0x60
)

// HeaderSize is the fixed non-extended header: byte0+byte1+dstEDID(4)+srcEDID(4).
const HeaderSize = 10

// MaxPayload is the largest net-layer payload a non-extended frame may
// carry (§6): link payload 53 minus the 10-byte net header.
const MaxPayload = 53 - HeaderSize

var ErrShortFrame = errors.New("net: frame shorter than header")

// Frame is a decoded network-layer frame.
type Frame struct {
	Type     MsgType
	Ext      ExtType // meaningful only when Type == Extended
	DstCID   addr.CID
	SrcCID   addr.CID
	DstEDID  addr.EDID
	SrcEDID  addr.EDID
	Payload  []byte
}

// Encode serializes f into a link-layer payload.
func (f Frame) Encode() []byte {
	var extended = f.Type == Extended
	var size = HeaderSize
	if extended {
		size++
	}
	var buf = make([]byte, 0, size+len(f.Payload))

	var dst = byte(f.DstCID.Mask())
	var src = byte(f.SrcCID.Mask())
	buf = append(buf, byte(f.Type)<<4|(dst&0xF))
	buf = append(buf, (dst>>4&0x3)<<6|(src&0x3F))
	buf = append(buf, f.DstEDID[:]...)
	buf = append(buf, f.SrcEDID[:]...)
	if extended {
		buf = append(buf, byte(f.Ext))
	}
	buf = append(buf, f.Payload...)
	return buf
}

// Decode parses a link-layer payload into a network Frame.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, ErrShortFrame
	}
	var f Frame
	f.Type = MsgType(buf[0] >> 4)
	var dstLow = buf[0] & 0xF
	var dstHigh = (buf[1] >> 6) & 0x3
	f.DstCID = addr.CID(dstLow | dstHigh<<4).Mask()
	f.SrcCID = addr.CID(buf[1] & 0x3F).Mask()
	copy(f.DstEDID[:], buf[2:6])
	copy(f.SrcEDID[:], buf[6:10])

	rest := buf[10:]
	if f.Type == Extended {
		if len(rest) < 1 {
			return Frame{}, ErrShortFrame
		}
		f.Ext = ExtType(rest[0])
		rest = rest[1:]
	}
	f.Payload = rest
	return f, nil
}
