package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-rfid-alarm/internal/badge"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rfid.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileRequiresEnrollment(t *testing.T) {
	t.Parallel()
	r, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, ErrEnrollmentRequired)
	require.Nil(t, r)
}

func TestLoad_EmptyFileRequiresEnrollment(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "\n\n", "  \r\n"} {
		_, err := Load(writeFile(t, body))
		require.ErrorIs(t, err, ErrEnrollmentRequired, "%q", body)
	}
}

func TestLoad_DirectoryIsUnreadable(t *testing.T) {
	t.Parallel()
	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrUnreadable)
	require.NotErrorIs(t, err, ErrEnrollmentRequired)
}

func TestLoad_FirstTenCharactersPerLine(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "0F00322A61 front door\r\nABCDEFGHIJ\n\nABCDEFGHIJ-dup\nSHORT\n")
	r, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []badge.ID{"0F00322A61", "ABCDEFGHIJ", "SHORT"}, r.IDs())
	require.True(t, r.Contains("ABCDEFGHIJ"))
	require.False(t, r.Contains("ABCDEFGHIK"))
	require.Equal(t, path, r.Path())
}

func TestEnroll_IdempotentAndPersisted(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rfid.txt")
	r, err := OpenForEnrollment(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	ok, err := r.Enroll("ABCDEFGHIJ")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Enroll("ABCDEFGHIJ")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, r.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ\n", string(data))
}

func TestEnroll_RejectsNoise(t *testing.T) {
	t.Parallel()
	r, err := OpenForEnrollment(filepath.Join(t.TempDir(), "rfid.txt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	for _, id := range []badge.ID{"", "\r\n", " ab ", "ABC\nEFGHIJ", "\x00\x01\x02\x03"} {
		ok, err := r.Enroll(id)
		require.NoError(t, err)
		require.False(t, ok, "%q", id)
	}
	require.Zero(t, r.Len())
}

func TestEnroll_AppendsToExistingFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "AAAAAAAAAA\n")
	r, err := OpenForEnrollment(path)
	require.NoError(t, err)

	ok, err := r.Enroll("AAAAAAAAAA")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.Enroll("BBBBBBBBBB")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.Close())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []badge.ID{"AAAAAAAAAA", "BBBBBBBBBB"}, loaded.IDs())
}

func TestEnroll_FileWithoutTrailingNewline(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "ABCDEFGHIJ")
	r, err := OpenForEnrollment(path)
	require.NoError(t, err)

	ok, err := r.Enroll("KLMNOPQRST")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.Enroll("UVWXYZ0123")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ\nKLMNOPQRST\nUVWXYZ0123\n", string(raw))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []badge.ID{"ABCDEFGHIJ", "KLMNOPQRST", "UVWXYZ0123"}, loaded.IDs())
}

func TestEnroll_ReadOnlyRegistry(t *testing.T) {
	t.Parallel()
	r := New("AAAAAAAAAA")
	_, err := r.Enroll("BBBBBBBBBB")
	require.ErrorIs(t, err, ErrReadOnly)
	require.False(t, r.Contains("BBBBBBBBBB"))
	require.NoError(t, r.Close())
}

func TestNewDropsDuplicates(t *testing.T) {
	t.Parallel()
	r := New("A123456789", "B123456789", "A123456789")
	require.Equal(t, 2, r.Len())
	ids := r.IDs()
	ids[0] = "mutated"
	require.True(t, r.Contains("A123456789"), "IDs must return a copy")
	require.Equal(t, "", r.Path())
	require.True(t, strings.HasPrefix(string(r.IDs()[0]), "A"))
}
