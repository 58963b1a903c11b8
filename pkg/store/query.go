package store

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dmartio/datamart/pkg/api"
	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
)

// queryValidate checks the structural `validate` tags on the query
// envelope before any dispatch.
var queryValidate = validator.New()

// Serve answers a read query, dispatching on the query type.
//
// Domain errors fold into a failed response envelope; only context
// cancellation propagates as a Go error.
func (s *Store) Serve(ctx context.Context, q api.Query) (*api.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	if err := queryValidate.Struct(q); err != nil {
		return api.Failed(api.Validation("malformed query: " + err.Error())), nil
	}
	if err := ValidateSubpath(q.Subpath); err != nil {
		return api.Failed(err), nil
	}

	var (
		records []api.Record
		total   int
		err     error
	)
	switch q.Type {
	case api.QuerySubpath:
		records, total, err = s.querySubpath(ctx, q)
	case api.QuerySearch:
		records, total, err = s.querySearch(ctx, q)
	case api.QuerySpaces:
		records, total, err = s.querySpaces(ctx, q)
	case api.QueryEvents, api.QueryHistory, api.QueryTags:
		// Reserved query types; deliberately unimplemented.
		err = api.NotSupported(string(q.Type) + " queries")
	default:
		err = api.Validation("unknown query type: " + string(q.Type))
	}

	if s.metrics != nil {
		s.metrics.RecordQuery(string(q.Type), len(records), time.Since(start))
	}
	if err != nil {
		return api.Failed(err), nil
	}
	return api.Success(records, total), nil
}

// candidate is one directory entry that conforms to the metadata naming
// grammar, before filters run.
type candidate struct {
	shortname string
	rt        core.ResourceType
	metaPath  string
}

// querySubpath lists and filters the immediate children of a logical
// directory.
//
// The walk: enumerate conforming metadata files under the marker
// directory, fold in subdirectories that are folder entities, then apply
// the filters in order (type allow-list, shortname allow-list, tag
// intersection). The running total counts every entry passing filters;
// offset/limit bound only the returned window. Entries are visited in
// lexical shortname order, which this engine commits to as its stable
// default order.
func (s *Store) querySubpath(ctx context.Context, q api.Query) ([]api.Record, int, error) {
	subpath := CleanSubpath(q.Subpath)
	base := filepath.Join(s.paths.SpaceDir(q.SpaceName), subpath)

	candidates, err := s.collectCandidates(base, subpath == "")
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].shortname < candidates[j].shortname })

	total := 0
	var records []api.Record
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if !tagAccepted(q.ResourceTypes, string(c.rt)) {
			continue
		}
		if !tagAccepted(q.ResourceShortnames, c.shortname) {
			continue
		}

		res, loadErr := s.readMeta(c.metaPath, c.shortname, c.rt)
		if loadErr != nil {
			s.log.Warn().Err(loadErr).Str("path", c.metaPath).Msg("skipping unparseable metadata file")
			continue
		}
		if !res.Base().HasTag(q.Tags) {
			continue
		}

		total++
		if total <= q.Offset {
			continue
		}
		if q.Limit > 0 && len(records) >= q.Limit {
			continue
		}

		rec := core.ToRecord(res, subpath)
		if q.RetrieveJSONPayload {
			s.inlinePayload(ctx, q.SpaceName, subpath, res, &rec)
		}
		if !c.rt.IsAttachment() && c.rt != core.TypeSpace {
			rec.Attachments = s.aggregateAttachments(ctx, q, subpath, c.shortname)
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// collectCandidates enumerates the naming-grammar-conforming entries of
// one logical directory: ordinary entities under the marker directory plus
// sibling directories that are themselves folder entities. The schema
// documents directory is reserved at the space root only; a nested folder
// entity may legitimately be named "schema".
func (s *Store) collectCandidates(base string, atSpaceRoot bool) ([]candidate, error) {
	var candidates []candidate

	markerPath := filepath.Join(base, markerDir)
	entries, err := os.ReadDir(markerPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, api.Internal("listing metadata directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, attachmentPrefix) {
			continue
		}
		files, readErr := os.ReadDir(filepath.Join(markerPath, name))
		if readErr != nil {
			s.log.Warn().Err(readErr).Str("dir", name).Msg("skipping unreadable metadata directory")
			continue
		}
		for _, file := range files {
			token := parseMetaFilename(file.Name())
			if token == "" {
				continue
			}
			rt, ok := core.ParseResourceType(token)
			if !ok || rt == core.TypeFolder || rt == core.TypeSpace {
				s.log.Warn().Str("file", file.Name()).Str("dir", name).
					Msg("skipping metadata file outside the naming grammar")
				continue
			}
			candidates = append(candidates, candidate{
				shortname: name,
				rt:        rt,
				metaPath:  filepath.Join(markerPath, name, file.Name()),
			})
		}
	}

	// Folder fold-in: immediate subdirectories carrying their own folder
	// marker join the same result stream.
	siblings, err := os.ReadDir(base)
	if err != nil && !os.IsNotExist(err) {
		return nil, api.Internal("listing directory", err)
	}
	for _, entry := range siblings {
		name := entry.Name()
		if !entry.IsDir() || name == markerDir || (atSpaceRoot && name == "schema") {
			continue
		}
		folderMeta := filepath.Join(base, name, markerDir, "meta.folder.json")
		if _, statErr := os.Stat(folderMeta); statErr == nil {
			candidates = append(candidates, candidate{
				shortname: name,
				rt:        core.TypeFolder,
				metaPath:  folderMeta,
			})
		}
	}

	return candidates, nil
}

// aggregateAttachments scans one entity's attachment sub-area and groups
// the conforming children by resource type tag. The same type/shortname
// filters of the parent query apply; results never count toward the parent
// query's total or pagination.
func (s *Store) aggregateAttachments(ctx context.Context, q api.Query, subpath, parentShortname string) map[string][]api.Record {
	entityDir := filepath.Join(s.paths.SpaceDir(q.SpaceName), subpath, markerDir, parentShortname)
	entries, err := os.ReadDir(entityDir)
	if err != nil {
		return nil
	}

	attachSubpath := path.Join(subpath, parentShortname)
	var grouped map[string][]api.Record
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, attachmentPrefix) {
			continue
		}
		rt, ok := core.ParseResourceType(strings.TrimPrefix(name, attachmentPrefix))
		if !ok || !rt.IsAttachment() {
			s.log.Warn().Str("dir", name).Msg("skipping attachment directory outside the naming grammar")
			continue
		}
		if !tagAccepted(q.ResourceTypes, string(rt)) {
			continue
		}

		files, readErr := os.ReadDir(filepath.Join(entityDir, name))
		if readErr != nil {
			continue
		}
		for _, file := range files {
			shortname := parseMetaFilename(file.Name())
			if shortname == "" {
				continue
			}
			if !tagAccepted(q.ResourceShortnames, shortname) {
				continue
			}
			res, loadErr := s.readMeta(filepath.Join(entityDir, name, file.Name()), shortname, rt)
			if loadErr != nil {
				s.log.Warn().Err(loadErr).Str("file", file.Name()).
					Msg("skipping unparseable attachment metadata")
				continue
			}
			if grouped == nil {
				grouped = make(map[string][]api.Record)
			}
			grouped[string(rt)] = append(grouped[string(rt)], core.ToRecord(res, attachSubpath))
		}
	}
	return grouped
}

// GetEntry resolves a single entity to a full record, with attachments
// aggregated and, optionally, its JSON payload inlined.
//
// Unlike a listing, a missing metadata file here is fatal: the caller
// addressed one specific entity.
func (s *Store) GetEntry(ctx context.Context, space, subpath, shortname string, rt core.ResourceType, retrieveJSONPayload bool) (*api.Record, error) {
	res, err := s.Load(ctx, space, subpath, shortname, rt)
	if err != nil {
		return nil, err
	}

	cleaned := CleanSubpath(subpath)
	rec := core.ToRecord(res, cleaned)
	if retrieveJSONPayload {
		s.inlinePayload(ctx, space, cleaned, res, &rec)
	}
	if !rt.IsAttachment() && rt != core.TypeSpace {
		rec.Attachments = s.aggregateAttachments(ctx, api.Query{SpaceName: space}, cleaned, shortname)
	}
	return &rec, nil
}

// querySearch delegates to the index projector and resolves each hit back
// to its full filesystem record. Payload-document hits resolve through the
// owning meta document's address, which the document id already encodes.
func (s *Store) querySearch(ctx context.Context, q api.Query) ([]api.Record, int, error) {
	filters := map[string][]string{}
	if len(q.ResourceTypes) > 0 {
		filters["resource_type"] = q.ResourceTypes
	}
	if len(q.ResourceShortnames) > 0 {
		filters["shortname"] = q.ResourceShortnames
	}
	if len(q.Tags) > 0 {
		filters[index.TagsField] = q.Tags
	}
	if subpath := CleanSubpath(q.Subpath); subpath != "" {
		filters["subpath"] = []string{subpath}
	}

	total, docs, err := s.projector.Search(ctx, index.SearchRequest{
		Space:   q.SpaceName,
		Index:   q.SchemaName,
		Search:  q.Search,
		Filters: filters,
		SortBy:  q.SortBy,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, 0, api.Internal("search failed", err)
	}

	var records []api.Record
	for _, doc := range docs {
		rt := core.TypeContent
		if tag, ok := doc.Fields["resource_type"].(string); ok {
			if parsed, valid := core.ParseResourceType(tag); valid {
				rt = parsed
			}
		}

		res, loadErr := s.Load(ctx, q.SpaceName, doc.Subpath, doc.Shortname, rt)
		if loadErr != nil {
			s.log.Warn().Err(loadErr).Str("doc", doc.ID).Msg("search hit has no filesystem record")
			continue
		}
		rec := core.ToRecord(res, doc.Subpath)
		if q.RetrieveJSONPayload {
			s.inlinePayload(ctx, q.SpaceName, doc.Subpath, res, &rec)
		}
		records = append(records, rec)
	}
	return records, total, nil
}

// querySpaces enumerates the space descriptors under the root.
func (s *Store) querySpaces(ctx context.Context, q api.Query) ([]api.Record, int, error) {
	entries, err := os.ReadDir(s.paths.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, api.Internal("listing spaces root", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	total := 0
	var records []api.Record
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		descriptor := filepath.Join(s.paths.SpaceDir(name), markerDir, "meta.space.json")
		res, loadErr := s.readMeta(descriptor, name, core.TypeSpace)
		if loadErr != nil {
			s.log.Debug().Str("dir", name).Msg("skipping directory without a space descriptor")
			continue
		}

		total++
		if total <= q.Offset {
			continue
		}
		if q.Limit > 0 && len(records) >= q.Limit {
			continue
		}
		records = append(records, core.ToRecord(res, ""))
	}
	return records, total, nil
}

// inlinePayload replaces the record's payload descriptor with a copy whose
// body is the decoded JSON companion content. Inlining failures degrade to
// the bare descriptor with a warn log, never fail the query.
func (s *Store) inlinePayload(ctx context.Context, space, subpath string, res core.Resource, rec *api.Record) {
	body, err := s.loadJSONPayload(ctx, space, subpath, res)
	if err != nil {
		s.log.Warn().Err(err).Str("shortname", res.Base().Shortname).Msg("failed to inline JSON payload")
		return
	}
	if body == nil {
		return
	}

	inlined := *res.Base().Payload
	inlined.Body = body
	rec.Attributes["payload"] = &inlined
}

// tagAccepted reports membership in an allow-list; an empty list accepts
// everything.
func tagAccepted(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}
