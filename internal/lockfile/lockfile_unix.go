//go:build unix

package lockfile

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// Acquire opens (creating if needed) path and takes an exclusive,
// non-blocking flock on it. The holder's pid is written for operators.
func Acquire(path string) (*Lock, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, 0); err == nil {
		_, _ = unix.Pwrite(fd, []byte(strconv.Itoa(unix.Getpid())+"\n"), 0)
	}
	return &Lock{path: path, fd: fd}, nil
}

// Release drops the lock. The file is left in place; removing it would race
// with a process that just opened it.
func (l *Lock) Release() error {
	if l == nil || l.fd < 0 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	_ = unix.Flock(fd, unix.LOCK_UN)
	return unix.Close(fd)
}
