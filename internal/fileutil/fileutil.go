// Package fileutil copies recording folders with integrity checks.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ErrDestinationExists is returned when an export target is already
// present.
var ErrDestinationExists = errors.New("destination already exists")

// CopyStats summarizes a folder copy.
type CopyStats struct {
	Files []string
	Bytes int64
}

// CopyFileVerified streams src to dst and compares size and SHA-256 of
// both sides. dst is removed on mismatch.
func CopyFileVerified(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, srcInfo.Mode().Perm())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("%s: %w", dst, ErrDestinationExists)
		}
		return 0, err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return 0, err
	}

	// A log still being appended to grows past the stat size.
	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("copy size mismatch for %s: source %d bytes, copied %d bytes", filepath.Base(src), srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("copy hash mismatch for %s", filepath.Base(src))
	}
	return written, nil
}

// CopyDir copies the regular files directly under srcDir into a new
// dstDir. Subdirectories are skipped. A partial copy is removed.
func CopyDir(srcDir, dstDir string) (CopyStats, error) {
	var stats CopyStats
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return stats, err
	}
	if _, err := os.Stat(dstDir); err == nil {
		return stats, fmt.Errorf("%s: %w", dstDir, ErrDestinationExists)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return stats, fmt.Errorf("create %s: %w", dstDir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		n, err := CopyFileVerified(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name()))
		if err != nil {
			_ = os.RemoveAll(dstDir)
			return CopyStats{}, err
		}
		stats.Files = append(stats.Files, entry.Name())
		stats.Bytes += n
	}
	return stats, nil
}
