package payload

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/pkg/encryption"
)

func archiveKey(t *testing.T) encryption.Key {
	t.Helper()
	encoded, err := encryption.GenerateKey()
	require.NoError(t, err)
	key, err := encryption.ParseKey(encoded)
	require.NoError(t, err)
	return key
}

func testDocument() Document {
	return Document{
		"inventory": {
			"orders": TableSection{
				Rows: []common.Row{{"id": float64(1), "total": "10.50", "tracking_id": "SRV012025031415092601"}},
			},
		},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	key := archiveKey(t)
	dir := t.TempDir()

	info, err := WriteArchive(dir, "inventory_20250314150926", testDocument(), key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "inventory_20250314150926.zip"), info.Path)
	assert.Positive(t, info.Size)
	assert.Len(t, info.SHA256, 64)

	doc, err := ReadArchive(info.Path, info.SHA256, key)
	require.NoError(t, err)
	assert.Equal(t, testDocument(), doc)
}

func TestArchiveSingleEntry(t *testing.T) {
	key := archiveKey(t)
	dir := t.TempDir()

	info, err := WriteArchive(dir, "payload", testDocument(), key)
	require.NoError(t, err)

	zr, err := zip.OpenReader(info.Path)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "payload.json", zr.File[0].Name)
}

func TestReadArchiveHashMismatch(t *testing.T) {
	key := archiveKey(t)
	dir := t.TempDir()

	info, err := WriteArchive(dir, "payload", testDocument(), key)
	require.NoError(t, err)

	bogus := sha256.Sum256([]byte("other bytes"))
	_, err = ReadArchive(info.Path, hex.EncodeToString(bogus[:]), key)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestReadArchiveWrongKey(t *testing.T) {
	dir := t.TempDir()

	info, err := WriteArchive(dir, "payload", testDocument(), archiveKey(t))
	require.NoError(t, err)

	_, err = ReadArchive(info.Path, info.SHA256, archiveKey(t))
	assert.ErrorIs(t, err, ErrDecryptionFailure)
}

func TestReadArchiveMalformed(t *testing.T) {
	key := archiveKey(t)
	dir := t.TempDir()

	t.Run("NotAZip", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.zip")
		require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
		_, err := ReadArchive(path, strings.Repeat("0", 64), key)
		assert.ErrorIs(t, err, ErrArchiveReadFailure)
	})

	t.Run("TwoEntries", func(t *testing.T) {
		path := filepath.Join(dir, "double.zip")
		f, err := os.Create(path)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		for _, name := range []string{"a.json", "b.json"} {
			w, err := zw.Create(name)
			require.NoError(t, err)
			_, err = w.Write([]byte("x"))
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())

		_, err = ReadArchive(path, strings.Repeat("0", 64), key)
		assert.ErrorIs(t, err, ErrArchiveReadFailure)
	})

	t.Run("NonJSONEntry", func(t *testing.T) {
		path := filepath.Join(dir, "stray.zip")
		f, err := os.Create(path)
		require.NoError(t, err)
		zw := zip.NewWriter(f)
		w, err := zw.Create("payload.txt")
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())

		_, err = ReadArchive(path, strings.Repeat("0", 64), key)
		assert.ErrorIs(t, err, ErrArchiveReadFailure)
	})
}
