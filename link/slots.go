package link

import "github.com/fitprotocol/fitp/addr"

// TXState is the sender side of the four-way handshake per TX slot (§4.2).
type TXState int

const (
	txDataSent TXState = iota
	txCommitSent
)

// TXSlot buffers one in-flight HS4 send. Coordinators (PAN included) carry
// up to 4 concurrent TX slots, one per destination; end devices carry 1.
type TXSlot struct {
	Occupied     bool
	Dest         addr.Addr
	Payload      []byte
	State        TXState
	ExpiryTick   uint8
	RetriesLeft  int
	Transfer     TransferType
}

// RXSlot buffers one in-flight HS4 receive, from first DATA through the
// matching COMMIT.
type RXSlot struct {
	Occupied bool
	Sender   addr.Addr
	Transfer TransferType
	Frame    []byte
}

func slotCapacity(kind addr.Kind) int {
	if kind == addr.EndDeviceKind {
		return 1
	}
	return 4
}

// findTXSlot returns the index of the occupied TX slot addressed to dest,
// or -1.
func findTXSlot(slots []TXSlot, dest addr.Addr) int {
	for i := range slots {
		if slots[i].Occupied && addrEqual(slots[i].Dest, dest) {
			return i
		}
	}
	return -1
}

// findFreeTXSlot returns the index of an unoccupied TX slot, or -1 if the
// table is full (the caller must answer BUSY or fail the send).
func findFreeTXSlot(slots []TXSlot) int {
	for i := range slots {
		if !slots[i].Occupied {
			return i
		}
	}
	return -1
}

func findRXSlot(slots []RXSlot, sender addr.Addr) int {
	for i := range slots {
		if slots[i].Occupied && addrEqual(slots[i].Sender, sender) {
			return i
		}
	}
	return -1
}

func findFreeRXSlot(slots []RXSlot) int {
	for i := range slots {
		if !slots[i].Occupied {
			return i
		}
	}
	return -1
}

func addrEqual(a, b addr.Addr) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == addr.EndDeviceKind {
		return a.ED.Equal(b.ED)
	}
	return a.Coord.Mask() == b.Coord.Mask()
}
