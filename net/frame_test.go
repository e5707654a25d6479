package net

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitprotocol/fitp/addr"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	var f = Frame{
		Type:    Data,
		DstCID:  addr.CID(0x2A),
		SrcCID:  addr.CID(0x15),
		DstEDID: addr.EDID{1, 2, 3, 4},
		SrcEDID: addr.EDID{5, 6, 7, 8},
		Payload: []byte("hello"),
	}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f.Type, decoded.Type)
	assert.Equal(t, f.DstCID.Mask(), decoded.DstCID)
	assert.Equal(t, f.SrcCID.Mask(), decoded.SrcCID)
	assert.Equal(t, f.DstEDID, decoded.DstEDID)
	assert.Equal(t, f.SrcEDID, decoded.SrcEDID)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestFrameExtendedCarriesExtType(t *testing.T) {
	var f = Frame{
		Type:    Extended,
		Ext:     MoveRequest,
		DstCID:  addr.PANCID,
		SrcCID:  addr.CID(3),
		Payload: []byte{0x42},
	}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, Extended, decoded.Type)
	assert.Equal(t, MoveRequest, decoded.Ext)
	assert.Equal(t, []byte{0x42}, decoded.Payload)
}

func TestFrameDstCIDSpansBothBytes(t *testing.T) {
	// dest CID's low 4 bits live in byte0, high 2 bits in byte1 (§4.4): a
	// CID above 0xF exercises that split.
	var f = Frame{Type: Data, DstCID: addr.CID(0x3D), SrcCID: addr.CID(0x01)}
	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, addr.CID(0x3D), decoded.DstCID)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeRejectsShortExtendedBuffer(t *testing.T) {
	var f = Frame{Type: Data, DstCID: 0, SrcCID: 0}
	var buf = f.Encode()
	buf[0] = byte(Extended)<<4 | (buf[0] & 0xF)
	_, err := Decode(buf) // no room for the ext-type byte
	assert.ErrorIs(t, err, ErrShortFrame)
}
