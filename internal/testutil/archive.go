// Package testutil builds tar.gz fixtures shared by the stage tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/checksum"
)

// Entry is one member of a fixture archive.
type Entry struct {
	// Name is the member path inside the archive.
	Name string
	// Body is the file content; ignored for directories and links.
	Body string
	// Mode is the permission bits; zero means 0o644 for files and 0o755 for directories.
	Mode int64
	// Dir marks a directory entry.
	Dir bool
	// Linkname turns the entry into a symlink pointing at Linkname.
	Linkname string
}

// TarGz returns a gzip-compressed tar archive containing entries in order.
func TarGz(t testing.TB, entries ...Entry) []byte {
	t.Helper()

	var (
		buf bytes.Buffer
		gw  = gzip.NewWriter(&buf)
		tw  = tar.NewWriter(gw)
	)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}

		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		case e.Linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Linkname
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))

			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}

		require.NoError(t, tw.WriteHeader(hdr))

		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	return buf.Bytes()
}

// Sum returns the hex SHA-256 of data.
func Sum(data []byte) string {
	return checksum.Bytes(data)
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// ReadTarGz returns the regular-file members of a tar.gz archive keyed by name.
func ReadTarGz(t testing.TB, data []byte) map[string]string {
	t.Helper()

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	defer gr.Close()

	var (
		tr      = tar.NewReader(gr)
		members = make(map[string]string)
	)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		var body bytes.Buffer
		_, err = body.ReadFrom(tr)
		require.NoError(t, err)

		members[hdr.Name] = body.String()
	}

	return members
}
