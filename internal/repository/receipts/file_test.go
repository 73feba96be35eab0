package receipts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/libpack/internal/domain/bundle"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	index, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, index)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal receipts.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "index.json")
	repo := NewFileRepository(file)

	publishedAt := time.Now().UTC().Truncate(time.Millisecond)
	want := map[string]*bundle.Receipt{
		"libdemo-1.0.0": {
			ID:          "0192d1c4-0000-7000-8000-000000000001",
			Bundle:      "libdemo-1.0.0",
			Location:    "bundles/libdemo-1.0.0.tar.gz",
			Checksum:    "ab12",
			PublishedAt: publishedAt,
		},
		"libdemo-1.0.0-x86_64-linux": {
			ID:          "0192d1c4-0000-7000-8000-000000000002",
			Bundle:      "libdemo-1.0.0-x86_64-linux",
			Location:    "bundles/libdemo-1.0.0-x86_64-linux.tar.gz",
			Checksum:    "cd34",
			PublishedAt: publishedAt,
		},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	for name, receipt := range want {
		require.Equal(t, receipt.ID, got[name].ID)
		require.Equal(t, receipt.Bundle, got[name].Bundle)
		require.Equal(t, receipt.Location, got[name].Location)
		require.Equal(t, receipt.Checksum, got[name].Checksum)
		require.True(t, receipt.PublishedAt.Equal(got[name].PublishedAt))
	}

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestFileRepository_Malformed rejects entries that are not objects.
func TestFileRepository_Malformed(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"libdemo-1.0.0": "oops"}`), 0o600))

	_, err := NewFileRepository(file).Load(context.Background())
	require.ErrorIs(t, err, errMalformedEntry)
}
