package store

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/schema"
)

// ReindexStats summarizes a rebuild run.
type ReindexStats struct {
	// Spaces is the number of spaces rebuilt (disabled spaces excluded).
	Spaces int

	// Indexed counts successfully projected documents.
	Indexed int

	// Skipped counts entities that failed to load or project. Skips are
	// logged individually and never abort the batch.
	Skipped int
}

func (st *ReindexStats) add(other ReindexStats) {
	st.Spaces += other.Spaces
	st.Indexed += other.Indexed
	st.Skipped += other.Skipped
}

// ReindexAll rebuilds the indexes of every space under the root. Safe to
// re-run at any time; the filesystem stays authoritative throughout.
func (s *Store) ReindexAll(ctx context.Context) (ReindexStats, error) {
	var stats ReindexStats

	entries, err := os.ReadDir(s.paths.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, api.Internal("listing spaces root", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		spaceStats, err := s.ReindexSpace(ctx, entry.Name())
		if err != nil {
			return stats, err
		}
		stats.add(spaceStats)
	}
	return stats, nil
}

// ReindexSpace recreates a space's meta index and one index per schema
// document, then re-walks the space tree and projects every entity.
// A space with indexing disabled is skipped entirely.
func (s *Store) ReindexSpace(ctx context.Context, space string) (stats ReindexStats, err error) {
	start := time.Now()
	defer func() { s.record("ReindexSpace", start, err) }()
	if err = ctx.Err(); err != nil {
		return stats, err
	}
	if s.projector == nil {
		return stats, api.Internal("no index projector configured", nil)
	}
	if !s.indexingEnabled(ctx, space) {
		s.log.Info().Str("space", space).Msg("indexing disabled, skipping space")
		return stats, nil
	}

	if err = s.projector.CreateOrReplaceIndex(ctx, space, index.MetaIndexName, index.MetaFields); err != nil {
		return stats, api.Internal("recreating meta index", err)
	}

	schemaDir := s.paths.SchemaDir(space)
	schemaNames, err := schema.ListDocuments(schemaDir)
	if err != nil {
		return stats, err
	}
	for _, name := range schemaNames {
		doc, loadErr := schema.LoadDocument(schemaDir, name)
		if loadErr != nil {
			s.log.Warn().Err(loadErr).Str("schema", name).Msg("skipping unparseable schema document")
			stats.Skipped++
			continue
		}
		if err = s.projector.CreateOrReplaceIndex(ctx, space, name, schema.IndexFields(doc)); err != nil {
			return stats, api.Internal("recreating schema index", err)
		}
	}

	stats.Spaces = 1
	walkErr := s.walkSpace(ctx, space, func(subpath, shortname string, rt core.ResourceType, metaPath string) {
		res, loadErr := s.readMeta(metaPath, shortname, rt)
		if loadErr != nil {
			s.log.Warn().Err(loadErr).Str("path", metaPath).Msg("skipping entity during reindex")
			stats.Skipped++
			return
		}

		if projErr := s.projector.IndexMeta(ctx, space, subpath, res); projErr != nil {
			s.log.Warn().Err(projErr).Str("path", metaPath).Msg("failed to project entity during reindex")
			stats.Skipped++
			return
		}
		stats.Indexed++

		base := res.Base()
		if base.Payload != nil && base.Payload.SchemaShortname != "" {
			body, bodyErr := s.loadJSONPayload(ctx, space, subpath, res)
			if bodyErr != nil || body == nil {
				if bodyErr != nil {
					s.log.Warn().Err(bodyErr).Str("path", metaPath).Msg("skipping payload document during reindex")
					stats.Skipped++
				}
				return
			}
			if projErr := s.projector.IndexPayload(ctx, space, base.Payload.SchemaShortname, subpath, shortname, body); projErr != nil {
				s.log.Warn().Err(projErr).Str("path", metaPath).Msg("failed to project payload during reindex")
				stats.Skipped++
				return
			}
			stats.Indexed++
		}
	})
	if walkErr != nil {
		return stats, walkErr
	}

	s.log.Info().Str("space", space).Int("indexed", stats.Indexed).Int("skipped", stats.Skipped).
		Msg("space reindexed")
	return stats, nil
}

// walkSpace visits every entity in a space in layout order: ordinary
// entities and their attachments under each marker directory, folder
// entities at their own markers, recursing through the directory tree.
// The space descriptor itself is not an entity and is not visited.
func (s *Store) walkSpace(ctx context.Context, space string, visit func(subpath, shortname string, rt core.ResourceType, metaPath string)) error {
	return s.walkDir(ctx, s.paths.SpaceDir(space), "", visit)
}

func (s *Store) walkDir(ctx context.Context, base, subpath string, visit func(string, string, core.ResourceType, string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	marker := filepath.Join(base, markerDir)
	entries, err := os.ReadDir(marker)
	if err != nil && !os.IsNotExist(err) {
		return api.Internal("listing metadata directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, attachmentPrefix) {
			continue
		}
		entityDir := filepath.Join(marker, name)
		files, readErr := os.ReadDir(entityDir)
		if readErr != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() {
				if strings.HasPrefix(file.Name(), attachmentPrefix) {
					s.walkAttachments(filepath.Join(entityDir, file.Name()), path.Join(subpath, name), file.Name(), visit)
				}
				continue
			}
			token := parseMetaFilename(file.Name())
			if token == "" {
				continue
			}
			rt, ok := core.ParseResourceType(token)
			if !ok || rt == core.TypeFolder || rt == core.TypeSpace {
				continue
			}
			visit(subpath, name, rt, filepath.Join(entityDir, file.Name()))
		}
	}

	siblings, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return api.Internal("listing directory", err)
	}
	for _, entry := range siblings {
		name := entry.Name()
		if !entry.IsDir() || name == markerDir || (subpath == "" && name == "schema") {
			continue
		}

		folderMeta := filepath.Join(base, name, markerDir, "meta.folder.json")
		if _, statErr := os.Stat(folderMeta); statErr == nil {
			visit(subpath, name, core.TypeFolder, folderMeta)
		}
		if err := s.walkDir(ctx, filepath.Join(base, name), path.Join(subpath, name), visit); err != nil {
			return err
		}
	}
	return nil
}

// walkAttachments visits the attachment metadata files of one entity.
func (s *Store) walkAttachments(dir, attachSubpath, dirName string, visit func(string, string, core.ResourceType, string)) {
	rt, ok := core.ParseResourceType(strings.TrimPrefix(dirName, attachmentPrefix))
	if !ok || !rt.IsAttachment() {
		return
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, file := range files {
		shortname := parseMetaFilename(file.Name())
		if shortname == "" {
			continue
		}
		visit(attachSubpath, shortname, rt, filepath.Join(dir, file.Name()))
	}
}
