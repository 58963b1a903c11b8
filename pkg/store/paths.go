// Package store implements the storage core: the path resolver mapping
// logical addresses to the physical file layout, CRUD over JSON metadata
// files, payload orchestration, the filesystem query engine, the move
// coordinator and the index rebuild walk.
//
// The filesystem is the source of truth. The layout convention (".dm" is
// the marker directory separating metadata from payload siblings):
//
//	<root>/<space>/<subpath>/.dm/<shortname>/meta.<type>.json        ordinary entities
//	<root>/<space>/<subpath>/<shortname>/.dm/meta.folder.json        folder entities
//	<root>/<space>/<parent_subpath>/.dm/<parent>/attachments.<type>/meta.<shortname>.json
//	<root>/<space>/.dm/meta.space.json                               space descriptor
//
// This convention is load-bearing: the query engine pattern-matches on it.
package store

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
)

// markerDir is the hidden directory holding metadata files.
const markerDir = ".dm"

const attachmentPrefix = "attachments."

var (
	subpathPattern   = regexp.MustCompile(`^[0-9A-Za-z_/]{1,127}$`)
	shortnamePattern = regexp.MustCompile(`^\w{1,32}$`)
)

// Paths resolves logical entity addresses to physical locations.
// Pure and deterministic; performs no I/O.
type Paths struct {
	// Root is the spaces root directory.
	Root string
}

// CleanSubpath normalizes a subpath: slashes trimmed, "." and "/" mean the
// space root (empty).
func CleanSubpath(subpath string) string {
	subpath = strings.Trim(subpath, "/")
	if subpath == "." {
		return ""
	}
	return subpath
}

// ValidateSubpath checks the restricted subpath charset (word characters and
// slashes, bounded length). The empty subpath addresses the space root and
// is valid.
func ValidateSubpath(subpath string) error {
	subpath = CleanSubpath(subpath)
	if subpath == "" {
		return nil
	}
	if !subpathPattern.MatchString(subpath) {
		return api.Validation("malformed subpath: " + subpath)
	}
	return nil
}

// ValidateShortname checks the restricted shortname charset.
func ValidateShortname(shortname string) error {
	if !shortnamePattern.MatchString(shortname) {
		return api.Validation("malformed shortname: " + shortname)
	}
	return nil
}

// MetaPath resolves the directory and filename of an entity's metadata file.
//
// Three branches by resource kind: a folder's own metadata lives inside the
// directory it names; attachments live under their parent entity's metadata
// directory (the last subpath segment is the parent shortname); everything
// else gets its own directory under the marker.
func (p Paths) MetaPath(space, subpath, shortname string, rt core.ResourceType) (dir, filename string, err error) {
	if err := ValidateSubpath(subpath); err != nil {
		return "", "", err
	}
	subpath = CleanSubpath(subpath)

	switch {
	case rt == core.TypeSpace:
		dir = filepath.Join(p.Root, space, markerDir)
		filename = "meta.space.json"

	case rt == core.TypeFolder:
		dir = filepath.Join(p.Root, space, subpath, shortname, markerDir)
		filename = "meta.folder.json"

	case rt.IsAttachment():
		parentSubpath, parentName := splitParent(subpath)
		dir = filepath.Join(p.Root, space, parentSubpath, markerDir, parentName, attachmentPrefix+string(rt))
		filename = "meta." + shortname + ".json"

	default:
		dir = filepath.Join(p.Root, space, subpath, markerDir, shortname)
		filename = "meta." + string(rt) + ".json"
	}

	return dir, filename, nil
}

// PayloadDir resolves the directory a companion payload file lives in,
// relative to the spaces root (payload store backends address content
// relative to their own root, which for the filesystem backend is the same
// spaces root).
//
// Ordinary entities keep payload files in the subpath directory itself,
// siblings of the marker directory. Attachment payloads live inside the
// attachment-type directory, sharing a filename stem with their metadata.
func (p Paths) PayloadDir(space, subpath string, rt core.ResourceType) (string, error) {
	if err := ValidateSubpath(subpath); err != nil {
		return "", err
	}
	subpath = CleanSubpath(subpath)

	if rt.IsAttachment() {
		parentSubpath, parentName := splitParent(subpath)
		return filepath.Join(space, parentSubpath, markerDir, parentName, attachmentPrefix+string(rt)), nil
	}
	return filepath.Join(space, subpath), nil
}

// SpaceDir returns the root directory of a space.
func (p Paths) SpaceDir(space string) string {
	return filepath.Join(p.Root, space)
}

// SchemaDir returns the directory holding a space's JSON-Schema payload
// documents.
func (p Paths) SchemaDir(space string) string {
	return filepath.Join(p.Root, space, "schema")
}

// splitParent splits an attachment subpath into the parent entity's subpath
// and shortname. "cars/BMW" → ("cars", "BMW"); a bare "BMW" parents at the
// space root.
func splitParent(subpath string) (parentSubpath, parentName string) {
	idx := strings.LastIndex(subpath, "/")
	if idx < 0 {
		return "", subpath
	}
	return subpath[:idx], subpath[idx+1:]
}

// metaFilePattern matches metadata filenames and captures the middle token
// (resource type for ordinary entities, shortname for attachments).
var metaFilePattern = regexp.MustCompile(`^meta\.(\w+)\.json$`)

// parseMetaFilename extracts the captured token from a metadata filename,
// or "" when the name does not conform to the naming grammar.
func parseMetaFilename(name string) string {
	m := metaFilePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}
