// Package phy defines the external PHY contract consumed by the link
// layer (spec §6): frame in/out with carrier-sense transmit, channel/band/
// bitrate/power control, and the 50ms periodic tick that drives link-layer
// retry and NET-layer election timing. The physical layer itself — radio
// register programming — is explicitly out of this repo's scope; this
// package only fixes the interface and ships two reference adapters,
// phy/simulator (an in-process shared medium, with an optional pty bridge
// for external tools) and phy/serialradio (a real
// sub-GHz transceiver bridged over a serial UART).
package phy

import "errors"

// Band is one of the four sub-GHz ISM bands the fabric may operate in.
type Band byte

const (
	Band863 Band = iota
	Band863C950
	Band902
	Band915
)

// ChannelCount returns how many channels a band exposes at the given
// bitrate (§6): 25 channels for 100/200 kbps on an 863 band, 32 otherwise.
func (b Band) ChannelCount(bitrateKbps int) int {
	if (b == Band863 || b == Band863C950) && (bitrateKbps == 100 || bitrateKbps == 200) {
		return 25
	}
	return 32
}

// Bitrate enumerates the fabric's supported modem rates, in kbps.
type Bitrate int

const (
	Bitrate5   Bitrate = 5
	Bitrate10  Bitrate = 10
	Bitrate20  Bitrate = 20
	Bitrate40  Bitrate = 40
	Bitrate50  Bitrate = 50
	Bitrate66  Bitrate = 66
	Bitrate100 Bitrate = 100
	Bitrate200 Bitrate = 200
)

// PowerLevel is one of the 8 discrete transmit power steps, 13..-8 dBm.
type PowerLevel int

var PowerLevelsDBm = [8]int{13, 10, 7, 4, 1, -2, -5, -8}

// MaxPayload is the largest frame the PHY will carry (§6).
const MaxPayload = 63

// Params configures the PHY at Init time.
type Params struct {
	Channel         byte
	Band            Band
	Bitrate         Bitrate
	TXPower         PowerLevel
	CCAThresholdMin byte
	CCAThresholdMax byte
}

// Sink receives upcalls from the PHY: a delivered frame, or a 50ms tick.
// The link layer implements Sink and registers itself with a PHY at Init.
type Sink interface {
	OnFrame(buf []byte)
	OnTick()
}

// PHY is the contract the link layer drives. Send performs a carrier-sense
// transmit and blocks until the frame is on the air (or CCA gives up).
type PHY interface {
	Init(params Params, sink Sink) error
	Stop()
	Send(buf []byte) error
	SetChannel(ch byte) error
	SetBand(b Band) error
	SetBitrate(br Bitrate) error
	SetPower(p PowerLevel) error
	// MeasuredNoise returns the RSSI sampled for the most recently
	// received frame, used by NET for JOIN/MOVE candidate scoring.
	MeasuredNoise() uint8
}

var ErrPayloadTooLarge = errors.New("phy: payload exceeds MaxPayload")
