//go:build !linux

package canbus

import "errors"

// ErrUnsupported is returned by Open on platforms without SocketCAN, so the
// rawCAN/isoTP channel protocols are simply unavailable there while the rest
// of the daemon still builds and runs.
var ErrUnsupported = errors.New("canbus: socketcan unsupported on this platform")

// Device is a stand-in so the package type-checks on non-Linux hosts.
type Device struct{}

func Open(iface string) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error { return nil }

func (d *Device) ReadFrame() (Frame, error) { return Frame{}, ErrUnsupported }

func (d *Device) WriteFrame(fr Frame) error { return ErrUnsupported }
