//go:build linux

package panel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBCMPinNames(t *testing.T) {
	for in, want := range map[string]int{"17": 17, "GPIO4": 4, "bcm21": 21, " 26 ": 26} {
		got, err := bcm(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "PA7", "99", "-1"} {
		_, err := bcm(bad)
		require.Error(t, err, bad)
	}
}
