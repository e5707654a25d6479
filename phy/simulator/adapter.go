package simulator

import (
	"sync"
	"time"

	"github.com/fitprotocol/fitp/phy"
)

// Adapter implements phy.PHY against a Medium. Every JOIN channel sweep
// (spec §4.3) and every ordinary transmit goes through broadcast; there is
// no real carrier-sense delay, so Send returns as soon as the frame has
// been handed to every tuned peer.
type Adapter struct {
	medium *Medium

	mu      sync.Mutex
	channel byte
	band    phy.Band
	bitrate phy.Bitrate
	power   phy.PowerLevel
	noise   uint8

	sink   phy.Sink
	stopCh chan struct{}
}

// NewAdapter attaches a new node to m, initially silent until Init is called.
func NewAdapter(m *Medium) *Adapter {
	var a = &Adapter{medium: m}
	m.register(a)
	return a
}

func (a *Adapter) Init(params phy.Params, sink phy.Sink) error {
	a.mu.Lock()
	a.channel = params.Channel
	a.band = params.Band
	a.bitrate = params.Bitrate
	a.power = params.TXPower
	a.sink = sink
	a.stopCh = make(chan struct{})
	a.mu.Unlock()

	go a.tickLoop()
	return nil
}

// tickLoop fires Sink.OnTick at the ~20Hz cadence spec §3/§5 call for.
func (a *Adapter) tickLoop() {
	var t = time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			a.mu.Lock()
			sink := a.sink
			a.mu.Unlock()
			if sink != nil {
				sink.OnTick()
			}
		case <-a.stopCh:
			return
		}
	}
}

func (a *Adapter) Stop() {
	a.mu.Lock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.mu.Unlock()
	a.medium.unregister(a)
}

func (a *Adapter) Send(buf []byte) error {
	if len(buf) > phy.MaxPayload {
		return phy.ErrPayloadTooLarge
	}
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()

	// A copy crosses to every recipient; the sender must not see its own
	// buffer mutated by a concurrent Encode elsewhere.
	var cp = make([]byte, len(buf))
	copy(cp, buf)
	a.medium.broadcast(a, ch, cp)
	return nil
}

func (a *Adapter) SetChannel(ch byte) error {
	a.mu.Lock()
	a.channel = ch
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SetBand(b phy.Band) error {
	a.mu.Lock()
	a.band = b
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SetBitrate(br phy.Bitrate) error {
	a.mu.Lock()
	a.bitrate = br
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SetPower(p phy.PowerLevel) error {
	a.mu.Lock()
	a.power = p
	a.mu.Unlock()
	return nil
}

func (a *Adapter) MeasuredNoise() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.noise
}

// deliver is called by Medium.broadcast on the receiving adapter's side.
func (a *Adapter) deliver(buf []byte, rssi uint8) {
	a.mu.Lock()
	a.noise = rssi
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink.OnFrame(buf)
	}
}
