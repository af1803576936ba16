package badge

import (
	"errors"
	"fmt"
	"strings"
)

// Frame layout of the reader: STX, ten ASCII payload characters, ETX.
//
//	0x02 | '0' 'F' '0' '0' '2' 'A' '6' '1' 'B' '3' | 0x03
const (
	FrameSize = 12
	IDLen     = 10
)

// Frame is the raw bytes of one read attempt. It may be shorter than
// FrameSize when the read timeout expired mid-frame.
type Frame []byte

// ID is the badge identifier carried in a frame payload.
type ID string

var (
	// ErrShortFrame is returned by Decode for frames under FrameSize bytes.
	ErrShortFrame = errors.New("short badge frame")
)

// Decode strips the leading and trailing framing bytes and returns the
// payload. Payload bytes are not interpreted.
func Decode(f Frame) (ID, error) {
	if len(f) < FrameSize {
		return "", fmt.Errorf("%w: %d of %d bytes", ErrShortFrame, len(f), FrameSize)
	}
	return ID(f[1 : 1+IDLen]), nil
}

// Masked hides all but the last four characters.
func (id ID) Masked() string {
	s := string(id)
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func (id ID) String() string { return string(id) }
