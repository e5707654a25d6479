// Package serialradio implements phy.PHY against a real sub-GHz
// transceiver attached over a serial UART: a TX-enable GPIO line keyed
// around Send (github.com/warthog618/go-gpiocdev), attached USB-serial
// device discovery (github.com/jochenvg/go-udev), rig control for
// channel/band/bitrate/power (github.com/xylo04/goHamlib), and termios
// configuration of the UART itself (golang.org/x/sys/unix layered under
// github.com/pkg/term). It is the hardware-facing analogue of the
// teacher's audio.go/ptt.go/serial_port.go trio, generalized from an
// audio-modem soundcard to a digital transceiver behind phy.PHY.
package serialradio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	udev "github.com/jochenvg/go-udev"
	"github.com/pkg/term"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"github.com/fitprotocol/fitp/internal/logging"
	"github.com/fitprotocol/fitp/phy"
)

var logger = logging.Component("phy.serialradio")

// frameMagic starts every frame on the wire to the radio module;
// maxFrame allows for the trailing RSSI byte the module appends on
// receive.
const (
	frameMagic = 0x7E
	maxFrame   = phy.MaxPayload + 1
)

// Config configures a Radio's serial port, TX-enable GPIO line, and rig
// control. Zero values disable the corresponding subsystem: no
// TXEnableChip means no GPIO keying, no HamlibModel means no rig control
// (SetChannel/SetBand/SetBitrate/SetPower become no-ops).
type Config struct {
	Device   string // e.g. "/dev/ttyUSB0"; empty triggers udev auto-discovery
	BaudRate int

	TXEnableChip string // gpiocdev chip name, e.g. "gpiochip0"
	TXEnableLine int

	HamlibModel int    // hamlib rig model number; 0 disables rig control
	HamlibPort  string // rig control port; defaults to Device
}

// Discover enumerates attached USB-serial devices likely to be radio
// dongles, for callers that leave Config.Device unset — the serial-radio
// analogue of the teacher's default sound-card auto-selection.
func Discover() ([]string, error) {
	var u udev.Udev
	var e = u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("serialradio: enumerate tty devices: %w", err)
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("serialradio: enumerate tty devices: %w", err)
	}
	var paths []string
	for _, d := range devices {
		if d.Devnode() == "" {
			continue
		}
		if d.ParentWithSubsystemDevtype("usb", "usb_device") == nil {
			continue // not a USB-attached device
		}
		paths = append(paths, d.Devnode())
	}
	return paths, nil
}

// Radio is a phy.PHY backed by real hardware.
type Radio struct {
	mu       sync.Mutex
	port     *term.Term
	txEnable *gpiocdev.Line
	rig      *rigController

	channel byte
	band    phy.Band
	bitrate phy.Bitrate
	power   phy.PowerLevel
	noise   uint8

	sink   phy.Sink
	stopCh chan struct{}
}

// Open brings up the serial port and optional TX-enable GPIO line and rig
// control, without yet registering a sink — see Init.
func Open(cfg Config) (*Radio, error) {
	var device = cfg.Device
	if device == "" {
		found, err := Discover()
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("serialradio: no device configured and none discovered")
		}
		device = found[0]
	}

	t, err := term.Open(device, term.Speed(cfg.BaudRate), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialradio: open %s: %w", device, err)
	}
	if err := setExactBaud(t, cfg.BaudRate); err != nil {
		t.Close()
		return nil, err
	}

	var r = &Radio{port: t}

	if cfg.TXEnableChip != "" {
		line, err := gpiocdev.RequestLine(cfg.TXEnableChip, cfg.TXEnableLine, gpiocdev.AsOutput(0))
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("serialradio: request TX-enable line %s:%d: %w", cfg.TXEnableChip, cfg.TXEnableLine, err)
		}
		r.txEnable = line
	}

	if cfg.HamlibModel != 0 {
		var rigPort = cfg.HamlibPort
		if rigPort == "" {
			rigPort = device
		}
		rig, err := openRig(cfg.HamlibModel, rigPort)
		if err != nil {
			logger.Warn("rig control unavailable, channel/band/power calls will no-op", "error", err)
		} else {
			r.rig = rig
		}
	}

	return r, nil
}

// setExactBaud issues a raw termios ioctl for baud rates outside
// pkg/term's fixed Speed table, the one piece of serial setup that
// package doesn't cover on Linux.
func setExactBaud(t *term.Term, baud int) error {
	if baud == 0 {
		return nil
	}
	var fd = int(t.Fd())
	ti, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("serialradio: get termios: %w", err)
	}
	ti.Ispeed = uint32(baud)
	ti.Ospeed = uint32(baud)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, ti); err != nil {
		return fmt.Errorf("serialradio: set termios baud %d: %w", baud, err)
	}
	return nil
}

func (r *Radio) Init(params phy.Params, sink phy.Sink) error {
	r.mu.Lock()
	r.channel = params.Channel
	r.band = params.Band
	r.bitrate = params.Bitrate
	r.power = params.TXPower
	r.sink = sink
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	if r.rig != nil {
		if err := r.rig.apply(params); err != nil {
			logger.Warn("initial rig parameters rejected", "error", err)
		}
	}

	go r.tickLoop()
	go r.readLoop()
	return nil
}

// tickLoop fires Sink.OnTick at the 50ms cadence §3/§5 call for, the same
// cadence phy/simulator's Adapter runs in-process.
func (r *Radio) tickLoop() {
	var t = time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.mu.Lock()
			var sink = r.sink
			r.mu.Unlock()
			if sink != nil {
				sink.OnTick()
			}
		case <-r.stopCh:
			return
		}
	}
}

// readLoop decodes magic-byte/length-prefixed frames from the radio
// module into phy.Sink.OnFrame upcalls. Each frame trails a one-byte RSSI
// sample the module measured on receive, surfaced via MeasuredNoise.
func (r *Radio) readLoop() {
	var br = bufio.NewReader(r.port)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}
		if b != frameMagic {
			continue
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			continue
		}
		var n = binary.BigEndian.Uint16(lenBuf[:])
		if n == 0 || int(n) > maxFrame {
			continue
		}
		var body = make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			continue
		}
		var rssi = body[n-1]
		var payload = body[:n-1]

		r.mu.Lock()
		r.noise = rssi
		var sink = r.sink
		r.mu.Unlock()
		if sink != nil {
			sink.OnFrame(payload)
		}
	}
}

func (r *Radio) Stop() {
	r.mu.Lock()
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
	r.mu.Unlock()
	if r.txEnable != nil {
		r.txEnable.Close()
	}
	if r.rig != nil {
		r.rig.close()
	}
	r.port.Close()
}

// Send keys the TX-enable GPIO line for the duration of the write, the
// serial-radio analogue of the teacher's ptt.go toggling a PTT line
// around an audio-modem transmission.
func (r *Radio) Send(buf []byte) error {
	if len(buf) > phy.MaxPayload {
		return phy.ErrPayloadTooLarge
	}

	var frame = make([]byte, 0, 3+len(buf)+1)
	frame = append(frame, frameMagic)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(buf)+1))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, buf...)
	frame = append(frame, 0) // RSSI trailer is meaningless on transmit

	if r.txEnable != nil {
		if err := r.txEnable.SetValue(1); err != nil {
			return fmt.Errorf("serialradio: TX-enable on: %w", err)
		}
		defer r.txEnable.SetValue(0)
	}

	_, err := r.port.Write(frame)
	return err
}

func (r *Radio) SetChannel(ch byte) error {
	r.mu.Lock()
	r.channel = ch
	var rig = r.rig
	r.mu.Unlock()
	if rig == nil {
		return nil
	}
	return rig.setChannel(ch)
}

func (r *Radio) SetBand(b phy.Band) error {
	r.mu.Lock()
	r.band = b
	var rig = r.rig
	r.mu.Unlock()
	if rig == nil {
		return nil
	}
	return rig.setBand(b)
}

func (r *Radio) SetBitrate(br phy.Bitrate) error {
	r.mu.Lock()
	r.bitrate = br
	var rig = r.rig
	r.mu.Unlock()
	if rig == nil {
		return nil
	}
	return rig.setBitrate(br)
}

func (r *Radio) SetPower(p phy.PowerLevel) error {
	r.mu.Lock()
	r.power = p
	var rig = r.rig
	r.mu.Unlock()
	if rig == nil {
		return nil
	}
	return rig.setPower(p)
}

func (r *Radio) MeasuredNoise() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noise
}
