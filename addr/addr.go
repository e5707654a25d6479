// Package addr defines the fabric's address space: the 4-byte network
// identifier (NID), 4-byte device identifier (EDID), and 6-bit coordinator
// identifier (CID), plus the tagged destination/source variant used
// throughout the link and network layers.
package addr

import "fmt"

// NID identifies one fabric. It scopes every non-JOIN link frame.
type NID [4]byte

func (n NID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X", n[0], n[1], n[2], n[3])
}

// EDID globally identifies one device, coordinator or end device alike.
type EDID [4]byte

// BroadcastEDID is used when a frame has no meaningful single end-device
// destination (e.g. coordinator-to-coordinator traffic).
var BroadcastEDID = EDID{0xFF, 0xFF, 0xFF, 0xFF}

func (e EDID) Equal(o EDID) bool { return e == o }

func (e EDID) IsBroadcast() bool { return e == BroadcastEDID }

func (e EDID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X", e[0], e[1], e[2], e[3])
}

// Uint64 packs the EDID into a uint64 key, used by the device-list host API
// (§6) which keys devices by edid_u64.
func (e EDID) Uint64() uint64 {
	var v uint64
	for _, b := range e {
		v = v<<8 | uint64(b)
	}
	return v
}

// EDIDFromUint64 is the inverse of EDID.Uint64.
func EDIDFromUint64(v uint64) EDID {
	var e EDID
	for i := 3; i >= 0; i-- {
		e[i] = byte(v)
		v >>= 8
	}
	return e
}

// CID is a 6-bit coordinator identifier. Only the low 6 bits are
// significant on the wire; callers must mask with CID.Mask() when reading
// a raw byte off a frame.
type CID byte

const (
	// PANCID is the coordinator identifier of the PAN coordinator; the PAN
	// is always self-parented in the routing tree.
	PANCID CID = 0
	// BroadcastCID addresses every coordinator in the fabric.
	BroadcastCID CID = 0x3f
	// InvalidCID marks an unoccupied routing-tree slot or a not-yet-assigned CID.
	InvalidCID CID = 0xff
	// MaxCoordCID is the highest assignable coordinator CID (1..62).
	MaxCoordCID CID = 0x3e
	// MinCoordCID is the lowest assignable coordinator CID.
	MinCoordCID CID = 0x01
)

// Mask returns the 6-bit coordinator identifier encoded in the low 6 bits
// of c, discarding any high bits a caller packed alongside it.
func (c CID) Mask() CID { return c & 0x3f }

func (c CID) IsBroadcast() bool { return c.Mask() == BroadcastCID }

func (c CID) IsPAN() bool { return c.Mask() == PANCID }

func (c CID) Valid() bool { return c != InvalidCID }

// Kind distinguishes the two address shapes a frame destination or source
// can take. This is the Go rendering of the original `union { coord: u8,
// ed: [u8;4] }` with an `address_type` discriminant: a tagged variant
// rather than an untagged union.
type Kind int

const (
	CoordKind Kind = iota
	EndDeviceKind
)

func (k Kind) String() string {
	if k == EndDeviceKind {
		return "end-device"
	}
	return "coordinator"
}

// Addr is either a coordinator address (by CID) or an end-device address
// (by EDID). Exactly one of the two fields is meaningful, selected by Kind.
type Addr struct {
	Kind  Kind
	Coord CID
	ED    EDID
}

// Coordinator constructs a coordinator-kind address.
func Coordinator(cid CID) Addr { return Addr{Kind: CoordKind, Coord: cid} }

// EndDevice constructs an end-device-kind address.
func EndDevice(edid EDID) Addr { return Addr{Kind: EndDeviceKind, ED: edid} }

func (a Addr) IsEndDevice() bool { return a.Kind == EndDeviceKind }

func (a Addr) String() string {
	if a.IsEndDevice() {
		return a.ED.String()
	}
	return fmt.Sprintf("cid:%02x", byte(a.Coord))
}
