// Package payload defines the companion-file store interface.
//
// A payload store manages the optional data file paired with an entity's
// metadata record: binary uploads (media) and JSON documents (schema-bound
// content). Implementations address content by a directory path relative to
// the store root plus a filename, mirroring the metadata tree so that
// filesystem-backed payloads end up exactly where the layout convention
// expects them.
package payload

import (
	"context"
	"io"
	"strings"
)

// Store is implemented by payload backends (filesystem, S3).
//
// All operations take a context for cancellation; large uploads must be
// streamed in bounded chunks rather than buffered in memory.
type Store interface {
	// Save streams r into dir/filename, creating dir as needed. It returns
	// the number of bytes written and the content digest in the form
	// "sha1:<hex>", computed over the full stream while writing.
	// A failed save must not leave a partial file behind.
	Save(ctx context.Context, dir, filename string, r io.Reader) (written int64, checksum string, err error)

	// SaveJSON serializes v as JSON into dir/filename.
	SaveJSON(ctx context.Context, dir, filename string, v any) error

	// Open returns a reader over dir/filename. The caller closes it.
	Open(ctx context.Context, dir, filename string) (io.ReadCloser, error)

	// Delete removes dir/filename. Deleting an absent file is not an error.
	Delete(ctx context.Context, dir, filename string) error

	// DeleteStem removes every file in dir whose filename stem (the part
	// before the first dot) equals stem. Metadata records (see
	// IsMetaFilename) are never touched. Returns the removed filenames.
	DeleteStem(ctx context.Context, dir, stem string) ([]string, error)

	// RenameStem renames every file in dir whose stem equals oldStem so its
	// stem becomes newStem, preserving extensions. Metadata records are
	// never touched. Returns the new filenames.
	RenameStem(ctx context.Context, dir, oldStem, newStem string) ([]string, error)

	// List returns the filenames present in dir. A missing dir lists empty.
	List(ctx context.Context, dir string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// IsMetaFilename reports whether name follows the metadata naming grammar
// "meta.<token>.json". Attachment metadata records live in the same
// directory as their payload companions, and their stem is always "meta",
// so an entity legally named "meta" would otherwise drag every sibling's
// metadata record into its stem operations.
func IsMetaFilename(name string) bool {
	mid, ok := strings.CutPrefix(name, "meta.")
	if !ok {
		return false
	}
	mid, ok = strings.CutSuffix(mid, ".json")
	return ok && mid != "" && !strings.Contains(mid, ".")
}

// Stem returns the filename stem: everything before the first dot.
func Stem(filename string) string {
	for i := 0; i < len(filename); i++ {
		if filename[i] == '.' {
			return filename[:i]
		}
	}
	return filename
}

// SwapStem replaces the stem of filename with newStem, keeping the
// extension chain.
func SwapStem(filename, newStem string) string {
	for i := 0; i < len(filename); i++ {
		if filename[i] == '.' {
			return newStem + filename[i:]
		}
	}
	return newStem
}
