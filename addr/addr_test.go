package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEDIDBroadcast(t *testing.T) {
	var e = BroadcastEDID
	assert.True(t, e.IsBroadcast())
	assert.False(t, EDID{1, 2, 3, 4}.IsBroadcast())
}

func TestEDIDUint64RoundTrip(t *testing.T) {
	var e = EDID{0xAA, 0xBB, 0xCC, 0xDD}
	var v = e.Uint64()
	assert.Equal(t, e, EDIDFromUint64(v))
}

func TestCIDMaskAndSpecials(t *testing.T) {
	assert.Equal(t, BroadcastCID, CID(0xBF).Mask())
	assert.True(t, CID(0x3F).IsBroadcast())
	assert.True(t, PANCID.IsPAN())
	assert.False(t, InvalidCID.Valid())
}

func TestAddrVariants(t *testing.T) {
	var c = Coordinator(5)
	assert.False(t, c.IsEndDevice())

	var e = EndDevice(EDID{1, 2, 3, 4})
	assert.True(t, e.IsEndDevice())
	assert.Equal(t, "01020304", e.String())
}
