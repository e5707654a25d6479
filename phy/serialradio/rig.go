package serialradio

import (
	"fmt"
	"math"
	"sync"

	"github.com/xylo04/goHamlib"

	"github.com/fitprotocol/fitp/phy"
)

// bandBaseHz is the lowest frequency of each ISM band the fabric may
// operate in (§6).
var bandBaseHz = map[phy.Band]float64{
	phy.Band863:     863_000_000,
	phy.Band863C950: 863_000_000,
	phy.Band902:     902_000_000,
	phy.Band915:     915_000_000,
}

// channelSpacingHz assumes 200kHz channel spacing, consistent with the
// 25/32-channel counts phy.Band.ChannelCount documents for this band plan.
const channelSpacingHz = 200_000

// rigController drives channel/band/bitrate/power through hamlib rig
// control, replacing the teacher's ptt.go/config.go hamlib calls (there
// made directly against the cgo hamlib/rig.h headers) with the pure-Go
// xylo04/goHamlib binding against a real transceiver instead of a
// soundcard-driven modem.
type rigController struct {
	mu      sync.Mutex
	rig     *goHamlib.Rig
	band    phy.Band
	channel byte
}

func openRig(model int, port string) (*rigController, error) {
	var rig = goHamlib.RigInit(model)
	if rig == nil {
		return nil, fmt.Errorf("serialradio: unknown hamlib rig model %d", model)
	}
	rig.SetConf("rig_pathname", port)
	if err := rig.Open(); err != nil {
		return nil, fmt.Errorf("serialradio: rig open: %w", err)
	}
	return &rigController{rig: rig}, nil
}

func (c *rigController) apply(params phy.Params) error {
	c.mu.Lock()
	c.band = params.Band
	c.channel = params.Channel
	c.mu.Unlock()
	if err := c.pushFrequency(); err != nil {
		return err
	}
	if err := c.setBitrate(params.Bitrate); err != nil {
		return err
	}
	return c.setPower(params.TXPower)
}

func (c *rigController) setBand(b phy.Band) error {
	c.mu.Lock()
	c.band = b
	c.mu.Unlock()
	return c.pushFrequency()
}

func (c *rigController) setChannel(ch byte) error {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	return c.pushFrequency()
}

func (c *rigController) pushFrequency() error {
	c.mu.Lock()
	var base = bandBaseHz[c.band]
	var freq = base + float64(c.channel)*channelSpacingHz
	c.mu.Unlock()
	return c.rig.SetFreq(goHamlib.VFOCurr, freq)
}

// setBitrate expresses the fabric's modem rate as hamlib's occupied
// passband width in hertz; hamlib itself has no notion of an AX.25-style
// bits-per-second modem rate.
func (c *rigController) setBitrate(br phy.Bitrate) error {
	return c.rig.SetMode(goHamlib.ModePacket, int(br)*1000)
}

func (c *rigController) setPower(p phy.PowerLevel) error {
	if int(p) < 0 || int(p) >= len(phy.PowerLevelsDBm) {
		return fmt.Errorf("serialradio: power level %d out of range", p)
	}
	var dBm = phy.PowerLevelsDBm[p]
	var watts = float32(math.Pow(10, (float64(dBm)-30)/10))
	return c.rig.SetLevel(goHamlib.LevelRFPower, watts)
}

func (c *rigController) close() {
	c.rig.Close()
}
