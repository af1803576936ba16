// Package registry keeps the set of authorized badges.
//
// The backing store is a newline-delimited text file whose lines start with a
// ten character badge id; anything after it on the line is ignored. New ids
// are appended and synced one at a time so an accepted badge survives a crash.
package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
)

// DefaultPath is the badge list read when no path is configured.
const DefaultPath = "rfid.txt"

// minEnrollLen rejects near-empty noise frames (a stray CR/LF pair).
const minEnrollLen = 2

const filePermissions = 0o600

var (
	// ErrEnrollmentRequired is returned by Load when the file is absent or holds no ids.
	ErrEnrollmentRequired = errors.New("badge registry empty: enrollment required")
	// ErrUnreadable wraps filesystem errors other than absence.
	ErrUnreadable = errors.New("badge registry unreadable")
	// ErrReadOnly is returned by Enroll on a registry not opened for enrollment.
	ErrReadOnly = errors.New("badge registry is read-only")
)

// Registry is an insertion-ordered set of badge ids. It is not safe for
// concurrent use: the controller goroutine owns it, and other processes
// (the badges command) read the file instead.
type Registry struct {
	ids   []badge.ID
	index map[badge.ID]struct{}
	path  string
	f     *os.File
	// sep is set when the file does not end in a newline; the next append
	// starts a fresh line first.
	sep bool
}

// New returns an in-memory registry holding ids in order, duplicates dropped.
func New(ids ...badge.ID) *Registry {
	r := &Registry{index: make(map[badge.ID]struct{}, len(ids))}
	for _, id := range ids {
		r.add(id)
	}
	return r
}

// Load reads the badge file at path.
func Load(path string) (*Registry, error) {
	r, err := read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEnrollmentRequired
		}
		return nil, err
	}
	if r.Len() == 0 {
		return nil, ErrEnrollmentRequired
	}
	return r, nil
}

// OpenForEnrollment loads whatever path already holds (absence is fine) and
// opens it for appending.
func OpenForEnrollment(path string) (*Registry, error) {
	r, err := read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if r == nil {
		if path == "" {
			path = DefaultPath
		}
		r = New()
		r.path = filepath.Clean(path)
	}
	sep, err := missingNewline(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	r.f, r.sep = f, sep
	return r, nil
}

// missingNewline reports whether path is non-empty and its last byte is not
// a line feed. An absent file needs no separator.
func missingNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false, err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func read(path string) (*Registry, error) {
	if path == "" {
		path = DefaultPath
	}
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()
	r, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	r.path = path
	return r, nil
}

func parse(rd io.Reader) (*Registry, error) {
	r := New()
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > badge.IDLen {
			line = line[:badge.IDLen]
		}
		r.add(badge.ID(line))
	}
	return r, sc.Err()
}

func (r *Registry) add(id badge.ID) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	r.index[id] = struct{}{}
	r.ids = append(r.ids, id)
	return true
}

// Contains reports whether id is authorized.
func (r *Registry) Contains(id badge.ID) bool {
	_, ok := r.index[id]
	return ok
}

// Len returns the number of ids.
func (r *Registry) Len() int {
	return len(r.ids)
}

// IDs returns a copy of the ids in insertion order.
func (r *Registry) IDs() []badge.ID {
	out := make([]badge.ID, len(r.ids))
	copy(out, r.ids)
	return out
}

// Path returns the backing file, empty for in-memory registries.
func (r *Registry) Path() string { return r.path }

// Enroll appends id when it is new and plausible. It returns false for known
// ids and for noise; the id is only added once it is on disk.
func (r *Registry) Enroll(id badge.ID) (bool, error) {
	if !plausible(id) {
		return false, nil
	}
	if _, ok := r.index[id]; ok {
		return false, nil
	}
	if r.f == nil {
		return false, ErrReadOnly
	}
	line := string(id) + "\n"
	if r.sep {
		line = "\n" + line
	}
	if _, err := r.f.WriteString(line); err != nil {
		return false, fmt.Errorf("append badge: %w", err)
	}
	if err := r.f.Sync(); err != nil {
		return false, fmt.Errorf("sync badge file: %w", err)
	}
	r.sep = false
	r.add(id)
	return true, nil
}

// Close releases the append handle, if any.
func (r *Registry) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func plausible(id badge.ID) bool {
	s := string(id)
	if len(strings.TrimSpace(s)) <= minEnrollLen || !utf8.ValidString(s) {
		return false
	}
	for _, c := range s {
		if c == '\n' || c == '\r' || !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}
