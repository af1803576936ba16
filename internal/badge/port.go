package badge

import (
	"time"

	"github.com/tarm/serial"
)

// Serial line defaults of the 125 kHz reader modules (RDM6300 and clones).
const (
	DefaultBaud        = 9600
	DefaultReadTimeout = time.Second
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Open opens the reader's serial device. The read timeout bounds every Read:
// a Read that sees no byte within it returns (0, io.EOF).
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
