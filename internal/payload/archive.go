package payload

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/federata/federata/pkg/encryption"
)

// ErrArchiveReadFailure marks an archive that is not a well-formed payload:
// unreadable zip, or not exactly one .json entry
var ErrArchiveReadFailure = errors.New("archive read failure")

// ErrHashMismatch marks a payload whose sealed bytes do not match the
// recorded digest
var ErrHashMismatch = errors.New("payload hash mismatch")

// ErrDecryptionFailure marks a payload that could not be decrypted under
// the group key
var ErrDecryptionFailure = errors.New("payload decryption failure")

// ArchiveInfo describes one written payload archive. SHA256 is the hex
// digest of the sealed bytes inside the archive, not of the zip file.
type ArchiveInfo struct {
	Path   string
	Size   int64
	SHA256 string
}

// WriteArchive seals the document under the group key and writes it as the
// single .json entry of a zip archive at dir/name.zip
func WriteArchive(dir, name string, doc Document, key encryption.Key) (*ArchiveInfo, error) {
	plaintext, err := doc.Marshal()
	if err != nil {
		return nil, err
	}

	sealed, err := encryption.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal payload: %w", err)
	}
	digest := sha256.Sum256(sealed)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(dir, name+".zip")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entry, err := zw.Create(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry: %w", err)
	}
	if _, err := entry.Write(sealed); err != nil {
		return nil, fmt.Errorf("failed to write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	return &ArchiveInfo{
		Path:   path,
		Size:   info.Size(),
		SHA256: hex.EncodeToString(digest[:]),
	}, nil
}

// ReadArchive opens a payload archive, checks the sealed bytes against the
// recorded digest, decrypts under the group key and parses the document
func ReadArchive(path, expectedSHA256 string, key encryption.Key) (Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveReadFailure, err)
	}
	defer zr.Close()

	var entry *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".json") {
			return nil, fmt.Errorf("%w: unexpected entry %s", ErrArchiveReadFailure, f.Name)
		}
		if entry != nil {
			return nil, fmt.Errorf("%w: more than one entry", ErrArchiveReadFailure)
		}
		entry = f
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no entries", ErrArchiveReadFailure)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveReadFailure, err)
	}
	defer rc.Close()

	sealed, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveReadFailure, err)
	}

	digest := sha256.Sum256(sealed)
	if hex.EncodeToString(digest[:]) != expectedSHA256 {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, path)
	}

	plaintext, _, err := encryption.Open(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	return ParseDocument(plaintext)
}
