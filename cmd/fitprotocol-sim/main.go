// Command fitprotocol-sim spins up N simulated fabric nodes sharing one
// in-process phy/simulator.Medium, brings every end device up through
// JOIN against a PAN, and exercises a round-trip send — the mesh
// analogue of the teacher's cmd/tnctest loopback smoke test, for local
// multi-node testing without real radio hardware.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/fitprotocol/fitp/addr"
	fitpnet "github.com/fitprotocol/fitp/net"
	"github.com/fitprotocol/fitp/phy"
	"github.com/fitprotocol/fitp/phy/simulator"
)

func main() {
	var numEndDevices = pflag.IntP("end-devices", "n", 3, "number of simulated end devices to join against the PAN")
	var joinTimeout = pflag.Duration("join-timeout", 5*time.Second, "how long to wait for every end device to join")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nFlags:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	var medium = simulator.NewMedium()

	var panCfg = fitpnet.DefaultConfig(fitpnet.PANRole, addr.EDID{})
	var pan = fitpnet.NewStack(panCfg, simulator.NewAdapter(medium))
	mustStart(pan)
	pan.SetNID(addr.NID{0x10, 0x20, 0x30, 0x40})
	pan.JoiningEnable(30)
	defer pan.Stop()

	var eds = make([]*fitpnet.Stack, *numEndDevices)
	var edids = make([]addr.EDID, *numEndDevices)
	for i := range eds {
		var edid = addr.EDID{0, 0, 0, byte(i + 1)}
		var edCfg = fitpnet.DefaultConfig(fitpnet.EndDeviceRole, edid)
		var ed = fitpnet.NewStack(edCfg, simulator.NewAdapter(medium))
		mustStart(ed)
		eds[i] = ed
		edids[i] = edid
		defer ed.Stop()
	}

	var joined = make(chan int, len(eds))
	for i, ed := range eds {
		go func(i int, ed *fitpnet.Stack) {
			if ed.Join() {
				joined <- i
			}
		}(i, ed)
	}

	var deadline = time.After(*joinTimeout)
	var ok = 0
collect:
	for ok < len(eds) {
		select {
		case i := <-joined:
			fmt.Printf("end device %d joined (edid=%s)\n", i+1, hex.EncodeToString(edids[i][:]))
			ok++
		case <-deadline:
			break collect
		}
	}
	fmt.Printf("%d/%d end devices joined\n", ok, len(eds))

	for key, kind := range pan.DeviceList() {
		fmt.Printf("device table: edid=%s kind=%d\n", hex.EncodeToString(addr.EDIDFromUint64(key)[:]), kind)
	}

	if ok > 0 {
		var first = eds[0]
		if first.Send(addr.PANCID, addr.EDID{}, []byte("hello from end device")) {
			if payload, recvOK := pan.ReceivedData(); recvOK {
				fmt.Printf("PAN received: %q\n", payload[6:])
			}
		}
	}
}

func mustStart(s *fitpnet.Stack) {
	if err := s.Start(phy.Params{Bitrate: phy.Bitrate20}); err != nil {
		fmt.Fprintf(os.Stderr, "fitprotocol-sim: start stack: %v\n", err)
		os.Exit(1)
	}
}
