package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/payload"
)

// Move relocates or renames an entity. At least one destination coordinate
// must be provided; an omitted coordinate keeps its current value.
//
// Attachments are addressed by filename, regular entities by directory
// name, so the two move differently: an attachment's metadata file is
// renamed in place (a media attachment additionally renames every
// companion sharing its filename stem), while an ordinary entity's whole
// metadata directory moves. Companion payload files follow the entity
// through the payload backend.
//
// A failure after the rename but before the metadata rewrite leaves the
// entity at the destination with a stale shortname or payload pointer.
// There is no transaction log; repairing that state is an administrative
// action.
func (s *Store) Move(ctx context.Context, space, srcSubpath, srcShortname, destSubpath, destShortname string, res core.Resource) (err error) {
	start := time.Now()
	defer func() { s.record("Move", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	if destSubpath == "" && destShortname == "" {
		return api.MoveTargetMissing()
	}
	if destSubpath == "" {
		destSubpath = srcSubpath
	}
	if destShortname == "" {
		destShortname = srcShortname
	}
	if err = ValidateShortname(destShortname); err != nil {
		return err
	}

	base := res.Base()
	rt := core.ResourceTypeOf(res)

	srcDir, srcFile, err := s.paths.MetaPath(space, srcSubpath, srcShortname, rt)
	if err != nil {
		return err
	}
	destDir, destFile, err := s.paths.MetaPath(space, destSubpath, destShortname, rt)
	if err != nil {
		return err
	}

	unlockAll := s.lockPair(
		entityKey(space, srcSubpath, srcShortname),
		entityKey(space, destSubpath, destShortname),
	)
	defer unlockAll()

	srcMeta := filepath.Join(srcDir, srcFile)
	destMeta := filepath.Join(destDir, destFile)
	if _, statErr := os.Stat(srcMeta); statErr != nil {
		return api.NotFound("entity not found", srcMeta)
	}
	if _, statErr := os.Stat(destMeta); statErr == nil {
		return api.AlreadyExists("destination already exists", destMeta)
	}

	srcPayloadDir, err := s.paths.PayloadDir(space, srcSubpath, rt)
	if err != nil {
		return err
	}
	destPayloadDir, err := s.paths.PayloadDir(space, destSubpath, rt)
	if err != nil {
		return err
	}

	mutated := false
	if rt.IsAttachment() {
		if err = os.MkdirAll(destDir, 0o755); err != nil {
			return api.Internal("creating destination directory", err)
		}
		if err = os.Rename(srcMeta, destMeta); err != nil {
			return api.Internal("moving attachment metadata", err)
		}

		if rt == core.TypeMedia {
			if bodyName := base.CompanionFilename(); bodyName != "" {
				newName, moveErr := s.moveCompanions(ctx, srcPayloadDir, destPayloadDir, payload.Stem(bodyName), destShortname)
				if moveErr != nil {
					return moveErr
				}
				if newName != "" {
					base.Payload.Body = newName
					mutated = true
				}
			}
		}
	} else {
		// A folder's metadata lives inside the directory it names, so the
		// directory to move is the marker's parent; for everything else it
		// is the per-entity metadata directory.
		srcMove, destMove := srcDir, destDir
		if rt == core.TypeFolder {
			srcMove, destMove = filepath.Dir(srcDir), filepath.Dir(destDir)
		}
		if err = os.MkdirAll(filepath.Dir(destMove), 0o755); err != nil {
			return api.Internal("creating destination directory", err)
		}
		if err = os.Rename(srcMove, destMove); err != nil {
			return api.Internal("moving entity directory", err)
		}

		if bodyName := base.CompanionFilename(); bodyName != "" {
			newName, moveErr := s.moveCompanions(ctx, srcPayloadDir, destPayloadDir, payload.Stem(bodyName), destShortname)
			if moveErr != nil {
				return moveErr
			}
			if newName != "" {
				base.Payload.Body = newName
				mutated = true
			}
		}
	}

	if destShortname != srcShortname {
		base.Shortname = destShortname
		mutated = true
	}
	if mutated {
		base.Touch()
		if err = s.writeMeta(destDir, destFile, res); err != nil {
			return err
		}
	}

	// Source cleanup: only now-empty directories go.
	removeIfEmpty(srcDir)
	removeIfEmpty(filepath.Dir(srcDir))

	s.reindexAfterMove(ctx, space, srcSubpath, srcShortname, destSubpath, res)
	return nil
}

// lockPair acquires both entity locks in deterministic order, so two
// concurrent moves between the same pair cannot deadlock.
func (s *Store) lockPair(a, b string) func() {
	if a == b {
		return s.locks.Lock(a)
	}
	keys := []string{a, b}
	sort.Strings(keys)
	unlockFirst := s.locks.Lock(keys[0])
	unlockSecond := s.locks.Lock(keys[1])
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

// moveCompanions relocates every payload file sharing oldStem into the
// destination directory under newStem, going through the payload backend
// so both filesystem and object-store deployments behave the same. Returns
// the new name of the first moved file ("" when nothing matched).
func (s *Store) moveCompanions(ctx context.Context, srcDir, destDir, oldStem, newStem string) (string, error) {
	if srcDir == destDir {
		renamed, err := s.payloads.RenameStem(ctx, srcDir, oldStem, newStem)
		if err != nil {
			return "", api.Internal("renaming payload companions", err)
		}
		if len(renamed) == 0 {
			return "", nil
		}
		return renamed[0], nil
	}

	names, err := s.payloads.List(ctx, srcDir)
	if err != nil {
		return "", api.Internal("listing payload companions", err)
	}

	first := ""
	for _, name := range names {
		if payload.Stem(name) != oldStem || payload.IsMetaFilename(name) {
			continue
		}
		newName := payload.SwapStem(name, newStem)

		rc, openErr := s.payloads.Open(ctx, srcDir, name)
		if openErr != nil {
			return first, api.Internal("opening payload companion", openErr)
		}
		_, _, saveErr := s.payloads.Save(ctx, destDir, newName, rc)
		_ = rc.Close()
		if saveErr != nil {
			return first, api.Internal("moving payload companion", saveErr)
		}
		if delErr := s.payloads.Delete(ctx, srcDir, name); delErr != nil {
			return first, api.Internal("removing moved payload companion", delErr)
		}
		if first == "" {
			first = newName
		}
	}
	return first, nil
}

// reindexAfterMove drops the entity's documents at the old address and
// projects them at the new one. Best-effort, like every index write.
func (s *Store) reindexAfterMove(ctx context.Context, space, srcSubpath, srcShortname, destSubpath string, res core.Resource) {
	if s.projector == nil || !s.indexingEnabled(ctx, space) {
		return
	}
	src := CleanSubpath(srcSubpath)
	dest := CleanSubpath(destSubpath)
	base := res.Base()

	if err := s.projector.Delete(ctx, space, index.MetaIndexName, src, srcShortname); err != nil {
		s.log.Warn().Err(err).Str("shortname", srcShortname).Msg("index document delete failed after move")
	}
	s.projectMeta(ctx, space, dest, res)

	if base.Payload != nil && base.Payload.SchemaShortname != "" {
		if err := s.projector.Delete(ctx, space, base.Payload.SchemaShortname, src, srcShortname); err != nil {
			s.log.Warn().Err(err).Str("shortname", srcShortname).Msg("payload index delete failed after move")
		}
		if body, err := s.loadJSONPayload(ctx, space, dest, res); err == nil && body != nil {
			s.projectPayload(ctx, space, dest, res, body)
		}
	}
}
