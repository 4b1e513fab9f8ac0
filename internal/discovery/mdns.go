// Package discovery advertises the adapter daemon's tester-facing TCP
// endpoint over mDNS, mirroring the teacher's LAN-discovery story for a
// headless box (cmd/can-server/mdns.go).
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type adapters advertise under.
const ServiceType = "_canyonero._tcp"

// Advertise registers instanceName (or a hostname-derived default) under
// ServiceType at port, returning a cleanup function that unregisters it.
// Advertise blocks on nothing; ctx cancellation also triggers cleanup.
func Advertise(ctx context.Context, instanceName string, port int, meta []string) (func(), error) {
	instance := instanceName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canyonero-adapterd-%s", host)
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
