package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/schema"
)

// allowedExtensions is the accepted payload upload set. Anything else is
// rejected with UnsupportedMediaType before touching the backend.
var allowedExtensions = map[string]bool{
	"json": true, "md": true, "markdown": true, "txt": true, "csv": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "svg": true,
	"pdf": true,
}

// SavePayload streams an uploaded byte source into the entity's companion
// file. The metadata file must already exist; the companion is named
// "<shortname>.<ext>" so stem-based cleanup and renames find it.
//
// The SHA-1 digest is computed while streaming and recorded on the payload
// descriptor together with the stored filename; the metadata file is
// rewritten afterwards.
func (s *Store) SavePayload(ctx context.Context, space, subpath string, res core.Resource, uploadName string, r io.Reader) (err error) {
	start := time.Now()
	defer func() { s.record("SavePayload", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	base := res.Base()
	rt := core.ResourceTypeOf(res)

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(uploadName), "."))
	if !allowedExtensions[ext] {
		return api.UnsupportedMediaType("unsupported payload extension: " + ext)
	}

	dir, filename, err := s.paths.MetaPath(space, subpath, base.Shortname, rt)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entityKey(space, subpath, base.Shortname))
	defer unlock()

	metaPath := filepath.Join(dir, filename)
	if _, statErr := os.Stat(metaPath); statErr != nil {
		return api.Precondition("metadata must exist before its payload", metaPath)
	}

	payloadDir, err := s.paths.PayloadDir(space, subpath, rt)
	if err != nil {
		return err
	}

	stored := base.Shortname + "." + ext
	written, checksum, err := s.payloads.Save(ctx, payloadDir, stored, r)
	if err != nil {
		return api.Internal("saving payload", err)
	}
	if s.metrics != nil {
		s.metrics.RecordPayloadBytes("save", written)
	}

	if base.Payload == nil {
		base.Payload = &core.Payload{}
	}
	base.Payload.ContentType = core.ContentTypeForFilename(stored)
	base.Payload.Body = stored
	base.Payload.Checksum = checksum
	base.Touch()

	if err = s.writeMeta(dir, filename, res); err != nil {
		return err
	}
	s.projectMeta(ctx, space, subpath, res)
	return nil
}

// SavePayloadJSON persists a structured JSON payload into the entity's
// companion file. When the payload descriptor declares a schema, the value
// is validated against it before anything is written; a failing value
// surfaces as a validation error with no filesystem change.
func (s *Store) SavePayloadJSON(ctx context.Context, space, subpath string, res core.Resource, value any) (err error) {
	start := time.Now()
	defer func() { s.record("SavePayloadJSON", start, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	base := res.Base()
	rt := core.ResourceTypeOf(res)

	dir, filename, err := s.paths.MetaPath(space, subpath, base.Shortname, rt)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(entityKey(space, subpath, base.Shortname))
	defer unlock()

	metaPath := filepath.Join(dir, filename)
	if _, statErr := os.Stat(metaPath); statErr != nil {
		return api.Precondition("metadata must exist before its payload", metaPath)
	}

	schemaName := ""
	if base.Payload != nil {
		schemaName = base.Payload.SchemaShortname
	}
	if schemaName != "" {
		doc, loadErr := schema.LoadDocument(s.paths.SchemaDir(space), schemaName)
		if loadErr != nil {
			err = loadErr
			return err
		}
		if err = schema.Validate(doc, value); err != nil {
			return err
		}
	}

	payloadDir, err := s.paths.PayloadDir(space, subpath, rt)
	if err != nil {
		return err
	}

	stored := base.Shortname + ".json"
	if err = s.payloads.SaveJSON(ctx, payloadDir, stored, value); err != nil {
		return api.Internal("saving JSON payload", err)
	}

	if base.Payload == nil {
		base.Payload = &core.Payload{}
	}
	base.Payload.ContentType = core.ContentTypeJSON
	base.Payload.Body = stored
	base.Touch()

	if err = s.writeMeta(dir, filename, res); err != nil {
		return err
	}

	s.projectMeta(ctx, space, subpath, res)
	s.projectPayload(ctx, space, subpath, res, value)
	return nil
}

// OpenPayload streams the entity's companion file.
func (s *Store) OpenPayload(ctx context.Context, space, subpath string, res core.Resource) (io.ReadCloser, error) {
	base := res.Base()
	filename := base.CompanionFilename()
	if filename == "" {
		return nil, api.NotFound("entity has no payload companion", base.Shortname)
	}

	payloadDir, err := s.paths.PayloadDir(space, subpath, core.ResourceTypeOf(res))
	if err != nil {
		return nil, err
	}
	return s.payloads.Open(ctx, payloadDir, filename)
}

// loadJSONPayload reads and decodes the entity's JSON companion file, or
// nil when the entity has no JSON companion.
func (s *Store) loadJSONPayload(ctx context.Context, space, subpath string, res core.Resource) (map[string]any, error) {
	base := res.Base()
	if base.Payload == nil || base.Payload.ContentType != core.ContentTypeJSON {
		return nil, nil
	}
	filename := base.CompanionFilename()
	if filename == "" {
		// Inline JSON body, no companion file.
		if body, ok := base.Payload.Body.(map[string]any); ok {
			return body, nil
		}
		return nil, nil
	}

	payloadDir, err := s.paths.PayloadDir(space, subpath, core.ResourceTypeOf(res))
	if err != nil {
		return nil, err
	}
	rc, err := s.payloads.Open(ctx, payloadDir, filename)
	if err != nil {
		return nil, api.Internal("opening JSON payload", err)
	}
	defer rc.Close()

	var body map[string]any
	if err := json.NewDecoder(rc).Decode(&body); err != nil {
		return nil, api.Internal("decoding JSON payload", err)
	}
	return body, nil
}

// projectPayload pushes a schema-bound JSON payload into its schema index.
func (s *Store) projectPayload(ctx context.Context, space, subpath string, res core.Resource, value any) {
	if s.projector == nil || !s.indexingEnabled(ctx, space) {
		return
	}
	base := res.Base()
	if base.Payload == nil || base.Payload.SchemaShortname == "" {
		return
	}
	body, ok := value.(map[string]any)
	if !ok {
		return
	}

	subpath = CleanSubpath(subpath)
	err := s.projector.IndexPayload(ctx, space, base.Payload.SchemaShortname, subpath, base.Shortname, body)
	if err != nil {
		s.log.Warn().Err(err).Str("space", space).Str("schema", base.Payload.SchemaShortname).
			Str("shortname", base.Shortname).Msg("payload index projection failed")
	}
}
