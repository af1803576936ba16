// Package lockfile keeps a second alarmd from contending for the serial port
// and the GPIO lines.
package lockfile

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another instance holds the lock")

// Lock is an acquired process lock. Release is idempotent.
type Lock struct {
	path string
	fd   int
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }
