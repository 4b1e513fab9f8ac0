package klinebus

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens a K-Line UART at name/baud with the given read timeout.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
