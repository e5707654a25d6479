// Package discovery advertises a running fitprotocold PAN's host-control
// TCP listener over DNS-SD/Bonjour (github.com/brutella/dnssd), so LAN
// tooling can find a running PAN without a fixed address or port — the
// direct replacement for the teacher's dns_sd.go advertisement of its
// KISS/AGWPE TCP ports.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"

	"github.com/fitprotocol/fitp/internal/logging"
)

var logger = logging.Component("phy.discovery")

// ServiceType is the DNS-SD service type a PAN's control listener
// advertises itself under.
const ServiceType = "_fitprotocol._tcp"

// Advertiser wraps a dnssd.Responder advertising one service instance.
type Advertiser struct {
	responder dnssd.Responder
	cancel    context.CancelFunc
	done      chan struct{}
}

// Advertise starts advertising a PAN's control listener on port under
// instanceName. Call Stop to withdraw the advertisement and release the
// responder.
func Advertise(ctx context.Context, instanceName string, port int) (*Advertiser, error) {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: new responder: %w", err)
	}

	service, err := dnssd.NewService(dnssd.Config{
		Name:   instanceName,
		Type:   ServiceType,
		Domain: "local",
		Port:   port,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: new service: %w", err)
	}
	if _, err := responder.Add(service); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	var runCtx, cancel = context.WithCancel(ctx)
	var a = &Advertiser{responder: responder, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		if err := responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			logger.Warn("dnssd responder stopped unexpectedly", "error", err)
		}
	}()
	return a, nil
}

// Stop withdraws the advertisement and waits for the responder to exit.
func (a *Advertiser) Stop() {
	a.cancel()
	<-a.done
}
