package simulator

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"

	"github.com/fitprotocol/fitp/internal/logging"
)

// PTYBridge exposes one Medium node over a pseudo-terminal so an external
// process (a packet sniffer, a manual test harness) can inject and observe
// raw PHY frames without speaking the Medium's in-process API. Frames
// crossing the pty are length-prefixed (uint16 big-endian); unlike KISS
// over a serial line there is no need for FEND escaping here, since this
// is a private framing between the bridge and its one attached process.
//
// This mirrors src/kiss.go's kisspt_open_pt, which opens a pty with
// github.com/creack/pty for the same "let an external program attach as
// if it were real hardware" purpose.
type PTYBridge struct {
	adapter *Adapter
	master  *os.File
	log     *log.Logger
}

// OpenPTYBridge attaches a new Medium node and exposes it via a pty pair,
// returning the bridge and the slave device path external tooling should
// open. The bridge relays medium traffic to the pty and pty traffic back
// onto the medium until Close is called.
func OpenPTYBridge(m *Medium, channel byte) (*PTYBridge, string, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, "", err
	}

	var b = &PTYBridge{
		adapter: NewAdapter(m),
		master:  master,
		log:     logging.Component("phy.simulator"),
	}
	b.adapter.mu.Lock()
	b.adapter.channel = channel
	b.adapter.sink = bridgeSink{b}
	b.adapter.mu.Unlock()

	go b.readLoop()
	return b, slave.Name(), nil
}

// Close detaches the bridge from its medium and closes the pty master.
func (b *PTYBridge) Close() error {
	b.adapter.medium.unregister(b.adapter)
	return b.master.Close()
}

func (b *PTYBridge) readLoop() {
	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(b.master, lenBuf[:]); err != nil {
			return
		}
		var n = binary.BigEndian.Uint16(lenBuf[:])
		var buf = make([]byte, n)
		if _, err := io.ReadFull(b.master, buf); err != nil {
			return
		}
		if err := b.adapter.Send(buf); err != nil {
			b.log.Warn("pty bridge send failed", "error", err)
		}
	}
}

// bridgeSink adapts PTYBridge to phy.Sink so frames arriving from the
// medium are mirrored out to the attached external process. The bridge
// has no use for OnTick: it carries no link-layer state of its own.
type bridgeSink struct{ b *PTYBridge }

func (s bridgeSink) OnFrame(buf []byte) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(buf)))
	if _, err := s.b.master.Write(lenBuf[:]); err != nil {
		return
	}
	_, _ = s.b.master.Write(buf)
}

func (s bridgeSink) OnTick() {}
