// Package fs implements filesystem-based payload storage.
//
// Payload files are written into the same tree as the metadata files, so
// the on-disk layout matches the storage convention: a content entity's
// payload sits in its subpath directory as a sibling of the marker
// directory, and a media attachment's binary shares a stem with its
// metadata file inside the attachments directory.
package fs

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmartio/datamart/pkg/payload"
)

// copyChunkSize bounds the buffer used for streaming writes. Large media
// uploads never reside fully in memory.
const copyChunkSize = 256 * 1024

// FSPayloadStore implements payload.Store on the local filesystem.
//
// Filesystem operations are safe at the OS level; serialization of
// concurrent writers to the same entity is the storage core's concern (it
// holds a per-entity lock around payload writes).
type FSPayloadStore struct {
	basePath string
}

// NewFSPayloadStore creates a filesystem payload store rooted at basePath,
// creating the directory when missing.
func NewFSPayloadStore(ctx context.Context, basePath string) (*FSPayloadStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create payload root: %w", err)
	}
	return &FSPayloadStore{basePath: basePath}, nil
}

func (s *FSPayloadStore) path(dir, filename string) string {
	return filepath.Join(s.basePath, dir, filename)
}

// Save streams r into dir/filename through a SHA-1 digest.
//
// The stream is written to a temporary file in the target directory and
// renamed into place, so readers never observe a half-written payload and
// a failed save leaves nothing behind.
func (s *FSPayloadStore) Save(ctx context.Context, dir, filename string, r io.Reader) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	targetDir := filepath.Join(s.basePath, dir)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, "", fmt.Errorf("failed to create payload directory: %w", err)
	}

	tmp, err := os.CreateTemp(targetDir, "."+filename+".tmp-*")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temporary payload file: %w", err)
	}
	tmpName := tmp.Name()

	digest := sha1.New()
	written, err := io.CopyBuffer(io.MultiWriter(tmp, digest), r, make([]byte, copyChunkSize))
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("failed to write payload: %w", err)
	}

	if err := os.Rename(tmpName, s.path(dir, filename)); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("failed to finalize payload: %w", err)
	}

	return written, "sha1:" + hex.EncodeToString(digest.Sum(nil)), nil
}

// SaveJSON serializes v into dir/filename with indentation, matching the
// metadata files' human-inspectable style.
func (s *FSPayloadStore) SaveJSON(ctx context.Context, dir, filename string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}

	_, _, err = s.Save(ctx, dir, filename, strings.NewReader(string(data)))
	return err
}

// Open returns a reader over dir/filename.
func (s *FSPayloadStore) Open(ctx context.Context, dir, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(s.path(dir, filename))
}

// Delete removes dir/filename; an absent file is not an error.
func (s *FSPayloadStore) Delete(ctx context.Context, dir, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(dir, filename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// DeleteStem removes every file in dir sharing the stem, metadata records
// excepted.
func (s *FSPayloadStore) DeleteStem(ctx context.Context, dir, stem string) ([]string, error) {
	names, err := s.stemMatches(ctx, dir, stem)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.basePath, dir, name)); err != nil {
			return nil, fmt.Errorf("failed to delete payload sibling: %w", err)
		}
	}
	return names, nil
}

// RenameStem renames every file in dir sharing oldStem to use newStem,
// metadata records excepted.
func (s *FSPayloadStore) RenameStem(ctx context.Context, dir, oldStem, newStem string) ([]string, error) {
	names, err := s.stemMatches(ctx, dir, oldStem)
	if err != nil {
		return nil, err
	}

	renamed := make([]string, 0, len(names))
	for _, name := range names {
		newName := payload.SwapStem(name, newStem)
		oldPath := filepath.Join(s.basePath, dir, name)
		newPath := filepath.Join(s.basePath, dir, newName)
		if err := os.Rename(oldPath, newPath); err != nil {
			return renamed, fmt.Errorf("failed to rename payload sibling: %w", err)
		}
		renamed = append(renamed, newName)
	}
	return renamed, nil
}

// List returns the regular filenames in dir; a missing dir lists empty.
func (s *FSPayloadStore) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.basePath, dir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list payload directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Close is a no-op for the filesystem backend.
func (s *FSPayloadStore) Close() error { return nil }

func (s *FSPayloadStore) stemMatches(ctx context.Context, dir, stem string) ([]string, error) {
	names, err := s.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	matches := names[:0]
	for _, name := range names {
		if payload.Stem(name) == stem && !payload.IsMetaFilename(name) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}
