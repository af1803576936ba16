package badge

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// ErrDeviceUnavailable wraps read errors that mean the port is gone
// (unplugged adapter, closed descriptor). Timeouts never produce it.
var ErrDeviceUnavailable = errors.New("badge reader unavailable")

// ErrNotText marks a full frame whose payload is not valid UTF-8, which is
// line noise rather than a badge.
var ErrNotText = errors.New("badge payload is not text")

// Status classifies a read attempt.
type Status int

const (
	// NoData means the timeout elapsed without a byte.
	NoData Status = iota
	// Malformed means bytes arrived but did not form a text frame.
	Malformed
	// Badge means a frame decoded into Result.ID.
	Badge
)

func (s Status) String() string {
	switch s {
	case NoData:
		return "no_data"
	case Malformed:
		return "malformed"
	case Badge:
		return "badge"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Reader.Next call.
type Result struct {
	Status Status
	ID     ID
	Frame  Frame
	// Err holds the decode error for Malformed results.
	Err error
}

// PortReadTimeout is the per-Read timeout the port is opened with. It keeps
// a single blocking Read short so the frame deadline holds.
const PortReadTimeout = 100 * time.Millisecond

// Timeouts splits the total bound of one read attempt into the port's
// per-Read timeout and the frame deadline handed to NewReader. The deadline
// is checked after each Read, so frame+perRead never exceeds total.
func Timeouts(total time.Duration) (perRead, frame time.Duration) {
	perRead = PortReadTimeout
	if total <= 2*perRead {
		perRead = total / 2
	}
	return perRead, total - perRead
}

// Reader pulls fixed-size frames off a serial port.
type Reader struct {
	port    Port
	timeout time.Duration
	now     func() time.Time
}

// NewReader wraps an open port. timeout bounds a whole frame read; zero
// leaves only the per-read timeout of the port.
func NewReader(p Port, timeout time.Duration) *Reader {
	return &Reader{port: p, timeout: timeout, now: time.Now}
}

// ReadFrame reads until FrameSize bytes accumulated or the frame deadline
// passed. A read that returns nothing ends the attempt when no byte has
// arrived yet (a plain timeout, empty frame and nil error); once a frame has
// started, reads continue until the deadline so a slow sender is not cut
// short. With a zero timeout the first empty read ends the attempt.
//
// The port's own read timeout must be well below the frame timeout (see
// Timeouts), or the last Read can overshoot the deadline.
func (r *Reader) ReadFrame() (Frame, error) {
	buf := make([]byte, FrameSize)
	n := 0
	var deadline time.Time
	if r.timeout > 0 {
		deadline = r.now().Add(r.timeout)
	}
	for n < FrameSize {
		m, err := r.port.Read(buf[n:])
		n += m
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame(buf[:n]), fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		if deadline.IsZero() {
			if m == 0 {
				break
			}
			continue
		}
		if !r.now().Before(deadline) {
			break
		}
		if m == 0 && n == 0 { // tarm/serial: read timeout expired with nothing buffered
			break
		}
	}
	return Frame(buf[:n]), nil
}

// Next performs one bounded read and classifies it. Only an unavailable
// device is returned as an error.
func (r *Reader) Next() (Result, error) {
	f, err := r.ReadFrame()
	if err != nil {
		return Result{Status: NoData, Frame: f}, err
	}
	if len(f) == 0 {
		return Result{Status: NoData}, nil
	}
	id, derr := Decode(f)
	if derr != nil {
		return Result{Status: Malformed, Frame: f, Err: derr}, nil
	}
	if !utf8.ValidString(string(id)) {
		return Result{Status: Malformed, Frame: f, Err: ErrNotText}, nil
	}
	return Result{Status: Badge, ID: id, Frame: f}, nil
}

// Close releases the serial port.
func (r *Reader) Close() error { return r.port.Close() }
