// Command fitprotocolctl is a thin CLI that drives a running fitprotocold
// daemon's control socket: one pflag flag set, then a verb and its
// arguments as positional pflag.Args(), in the style of the teacher's
// cmd/samoyed-appserver (custom pflag.Usage, pflag.Parse, pflag.Arg(0)).
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	var addr = pflag.StringP("addr", "a", "127.0.0.1:4747", "fitprotocold control socket address")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [--addr host:port] <verb> [args...]

Verbs:
  join
  joined
  listen <seconds>
  unpair <edidhex>
  send <cid> <edidhex|-> <base64-payload>
  devices
  recv
  pairmode <on|off>

Flags:
`, os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}
	var verb = pflag.Arg(0)
	var args = pflag.Args()[1:]

	conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fitprotocolctl: connect %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	var line = strings.ToUpper(verb)
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if _, err := fmt.Fprintln(conn, line); err != nil {
		fmt.Fprintf(os.Stderr, "fitprotocolctl: send command: %v\n", err)
		os.Exit(1)
	}

	reply, readErr := bufio.NewReader(conn).ReadString('\n')
	reply = strings.TrimSpace(reply)
	if readErr != nil && reply == "" {
		fmt.Fprintf(os.Stderr, "fitprotocolctl: read reply: %v\n", readErr)
		os.Exit(1)
	}

	fmt.Println(reply)
	if strings.HasPrefix(reply, "ERR") {
		os.Exit(1)
	}
}
