package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

func listBadges(w io.Writer, path string, show bool) error {
	reg, err := registry.Load(path)
	if errors.Is(err, registry.ErrEnrollmentRequired) {
		_, _ = fmt.Fprintf(w, "no badges enrolled in %s\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	for i, id := range reg.IDs() {
		s := id.Masked()
		if show {
			s = id.String()
		}
		_, _ = fmt.Fprintf(w, "%3d  %s\n", i+1, s)
	}
	return nil
}
