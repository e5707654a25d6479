// Command fitprotocold is the fabric host daemon: it loads a StackConfig,
// wires a phy.PHY (simulated or real serial radio) through net.Stack, and
// exposes the §6 host API over a local TCP control listener, analogous to
// the teacher's cmd/direwolf wiring audio hardware through its modem/AX.25
// stack to a KISS/AGWPE TCP listener.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/fitprotocol/fitp/addr"
	"github.com/fitprotocol/fitp/internal/config"
	"github.com/fitprotocol/fitp/internal/logging"
	fitpnet "github.com/fitprotocol/fitp/net"
	"github.com/fitprotocol/fitp/phy"
	"github.com/fitprotocol/fitp/phy/discovery"
	"github.com/fitprotocol/fitp/phy/serialradio"
	"github.com/fitprotocol/fitp/phy/simulator"
)

var logger = logging.Component("fitprotocold")

func main() {
	var configPath = pflag.StringP("config", "c", "", "path to StackConfig YAML (required unless --simulate)")
	var roleOverride = pflag.String("role", "", "override StackConfig role: pan, coord, ed")
	var controlAddr = pflag.String("control-addr", "", "override StackConfig control_addr")
	var simulate = pflag.Bool("simulate", false, "run against an isolated in-process simulator PHY instead of --config")
	var nidFlag = pflag.String("nid", "", "PAN only: fabric NID as 8 hex characters")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -c <config.yaml> [flags]\n\nFlags:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	var cfg config.StackConfig
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("load config", "error", err)
			os.Exit(1)
		}
	} else if *simulate {
		cfg = config.Default()
	} else {
		fmt.Fprintln(os.Stderr, "fitprotocold: one of --config or --simulate is required")
		pflag.Usage()
		os.Exit(2)
	}
	if *roleOverride != "" {
		cfg.Role = config.Role(*roleOverride)
	}
	if *controlAddr != "" {
		cfg.ControlAddr = *controlAddr
	}

	netCfg, err := cfg.NetConfig()
	if err != nil {
		logger.Error("build stack config", "error", err)
		os.Exit(1)
	}

	var p phy.PHY
	if cfg.PHY.Simulate {
		p = simulator.NewAdapter(simulator.NewMedium())
	} else {
		p, err = serialradio.Open(serialradio.Config{
			Device:       cfg.PHY.Device,
			BaudRate:     cfg.PHY.BaudRate,
			TXEnableChip: cfg.PHY.TXEnableChip,
			TXEnableLine: cfg.PHY.TXEnableLine,
			HamlibModel:  cfg.PHY.HamlibModel,
			HamlibPort:   cfg.PHY.HamlibPort,
		})
		if err != nil {
			logger.Error("open radio", "error", err)
			os.Exit(1)
		}
	}

	var stack = fitpnet.NewStack(netCfg, p)
	params, err := cfg.PHY.Params()
	if err != nil {
		logger.Error("phy params", "error", err)
		os.Exit(1)
	}
	if err := stack.Start(params); err != nil {
		logger.Error("start stack", "error", err)
		os.Exit(1)
	}
	defer stack.Stop()

	if cfg.Role == config.RolePAN && *nidFlag != "" {
		raw, err := hex.DecodeString(*nidFlag)
		if err != nil || len(raw) != 4 {
			logger.Error("invalid -nid, want 8 hex characters", "nid", *nidFlag)
			os.Exit(1)
		}
		stack.SetNID(addr.NID{raw[0], raw[1], raw[2], raw[3]})
	}

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var advertiser *discovery.Advertiser
	if cfg.Role == config.RolePAN && cfg.Advertise {
		_, portStr, err := net.SplitHostPort(cfg.ControlAddr)
		if err != nil {
			logger.Warn("cannot parse control_addr for advertisement", "error", err)
		} else if port, err := strconv.Atoi(portStr); err == nil {
			advertiser, err = discovery.Advertise(ctx, cfg.AdvertiseName, port)
			if err != nil {
				logger.Warn("dnssd advertisement failed", "error", err)
			}
		}
	}

	if cfg.RotateDeviceTable && cfg.Role == config.RolePAN {
		go rotateDaily(ctx, stack)
	}

	listener, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		logger.Error("listen on control_addr", "addr", cfg.ControlAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("fitprotocold listening", "control_addr", cfg.ControlAddr, "role", cfg.Role)

	go acceptLoop(listener, stack)

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	listener.Close()
	if advertiser != nil {
		advertiser.Stop()
	}
}

// rotateDaily snapshots the device table once a day, matching the
// teacher's log.go daily log rotation cadence applied to the store
// instead of a text log.
func rotateDaily(ctx context.Context, stack *fitpnet.Stack) {
	var t = time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := stack.RotateDeviceTable(time.Now()); err != nil {
				logger.Warn("device table rotation failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func acceptLoop(listener net.Listener, stack *fitpnet.Stack) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go handleConn(conn, stack)
	}
}

// handleConn serves one control-socket connection with a newline-
// delimited command protocol: each request line is "CMD arg...", each
// response line is "OK [fields...]" or "ERR message".
func handleConn(conn net.Conn, stack *fitpnet.Stack) {
	defer conn.Close()
	var scanner = bufio.NewScanner(conn)
	var w = bufio.NewWriter(conn)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields = strings.Fields(line)
		var reply = dispatch(stack, fields)
		fmt.Fprintln(w, reply)
		w.Flush()
	}
}

func dispatch(stack *fitpnet.Stack, fields []string) string {
	if len(fields) == 0 {
		return "ERR empty-command"
	}
	switch strings.ToUpper(fields[0]) {
	case "JOIN":
		if stack.Join() {
			return "OK"
		}
		return "ERR join-failed"
	case "JOINED":
		return fmt.Sprintf("OK %v", stack.Joined())
	case "LISTEN":
		if len(fields) < 2 {
			return "ERR usage: LISTEN <seconds>"
		}
		seconds, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR bad-seconds"
		}
		if stack.Listen(seconds) {
			return "OK"
		}
		return "ERR listen-failed"
	case "UNPAIR":
		if len(fields) < 2 {
			return "ERR usage: UNPAIR <edidhex>"
		}
		edid, err := parseEDID(fields[1])
		if err != nil {
			return "ERR " + err.Error()
		}
		if stack.Unpair(edid) {
			return "OK"
		}
		return "ERR unpair-failed"
	case "SEND":
		if len(fields) < 4 {
			return "ERR usage: SEND <cid> <edidhex|-> <base64-payload>"
		}
		cidN, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR bad-cid"
		}
		var edid addr.EDID
		if fields[2] != "-" {
			edid, err = parseEDID(fields[2])
			if err != nil {
				return "ERR " + err.Error()
			}
		}
		data, err := base64.StdEncoding.DecodeString(fields[3])
		if err != nil {
			return "ERR bad-payload"
		}
		if stack.Send(addr.CID(cidN), edid, data) {
			return "OK"
		}
		return "ERR send-failed"
	case "DEVICES":
		var b strings.Builder
		b.WriteString("OK")
		for key, kind := range stack.DeviceList() {
			fmt.Fprintf(&b, " %s=%d", hex.EncodeToString(addr.EDIDFromUint64(key)[:]), kind)
		}
		return b.String()
	case "RECV":
		payload, ok := stack.ReceivedData()
		if !ok {
			return "ERR timeout"
		}
		return "OK " + base64.StdEncoding.EncodeToString(payload)
	case "PAIRMODE":
		if len(fields) < 2 {
			return "ERR usage: PAIRMODE <on|off>"
		}
		stack.SetPairMode(fields[1] == "on")
		return "OK"
	default:
		return "ERR unknown-command"
	}
}

func parseEDID(s string) (addr.EDID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return addr.EDID{}, fmt.Errorf("edid must be 8 hex characters")
	}
	return addr.EDID{raw[0], raw[1], raw[2], raw[3]}, nil
}
