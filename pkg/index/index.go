// Package index defines the search index projector: the component that
// maintains a derived, query-optimized copy of metadata and payload
// documents.
//
// The filesystem remains the source of truth; every index can be rebuilt at
// any time by re-walking the tree. Each space carries one logical "meta"
// index holding the closed meta field set, plus one index per JSON-Schema
// document whose fields are derived from the schema's declared properties.
package index

import (
	"context"
	"time"

	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/schema"
)

// MetaIndexName is the per-space index holding meta documents.
const MetaIndexName = "meta"

// MetaFields is the closed field set of the meta index.
var MetaFields = []schema.Field{
	{Path: "uuid", Name: "uuid", Type: schema.FieldText},
	{Path: "shortname", Name: "shortname", Type: schema.FieldText},
	{Path: "subpath", Name: "subpath", Type: schema.FieldText},
	{Path: "resource_type", Name: "resource_type", Type: schema.FieldText},
	{Path: "displayname", Name: "displayname", Type: schema.FieldText},
	{Path: "description", Name: "description", Type: schema.FieldText},
	{Path: "payload_content_type", Name: "payload_content_type", Type: schema.FieldText},
	{Path: "schema_shortname", Name: "schema_shortname", Type: schema.FieldText},
	{Path: "created_at", Name: "created_at", Type: schema.FieldNumeric},
	{Path: "updated_at", Name: "updated_at", Type: schema.FieldNumeric},
	{Path: "owner_shortname", Name: "owner_shortname", Type: schema.FieldText},
}

// MetaDocIDField is the payload-document field carrying the back-reference
// to the owning meta document.
const MetaDocIDField = "meta_doc_id"

// TagsField is the meta-document field holding the entity's tag set. Tags
// are stored as a native string array and filtered with set-intersection
// semantics.
const TagsField = "tags"

// Document is one indexed document.
type Document struct {
	// ID is the deterministic document id:
	// "<space>:<index>:<subpath>/<shortname>".
	ID string `json:"id"`

	Space     string `json:"space"`
	Index     string `json:"index"`
	Subpath   string `json:"subpath"`
	Shortname string `json:"shortname"`

	// Fields holds the indexed field values keyed by flattened field name.
	Fields map[string]any `json:"fields"`
}

// DocID builds the deterministic document id.
func DocID(space, indexName, subpath, shortname string) string {
	return space + ":" + indexName + ":" + subpath + "/" + shortname
}

// SearchRequest describes one search against a space index.
type SearchRequest struct {
	// Space selects the tenant; Index selects the logical index
	// (empty = meta).
	Space string
	Index string

	// Search is the free-text query. "*" or empty matches everything.
	Search string

	// Filters maps field names to accepted values. The tags field uses
	// set-intersection semantics; every other field matches when the
	// document value equals any of the listed values.
	Filters map[string][]string

	// SortBy names a field to order by; a leading '-' reverses. Without it
	// results come back in stable document-id order.
	SortBy string

	Limit  int
	Offset int
}

// Projector maintains the derived index documents.
//
// The projector handle is constructed once per process and injected into
// the storage core; there is no ambient global index state.
type Projector interface {
	// CreateOrReplaceIndex drops the index if it exists and recreates it
	// with the given field definitions. Idempotent, so schema changes can
	// be applied by re-running.
	CreateOrReplaceIndex(ctx context.Context, space, indexName string, fields []schema.Field) error

	// IndexMeta projects an entity into the space's meta index.
	IndexMeta(ctx context.Context, space, subpath string, res core.Resource) error

	// IndexPayload projects a JSON payload document into its
	// schema-specific index, tagged with the owning meta document's id.
	IndexPayload(ctx context.Context, space, schemaName, subpath, shortname string, payload map[string]any) error

	// Delete removes a document; deleting an absent document is a no-op.
	Delete(ctx context.Context, space, indexName, subpath, shortname string) error

	// GetDocument fetches one document by address.
	GetDocument(ctx context.Context, space, indexName, subpath, shortname string) (*Document, error)

	// Search runs a filtered, paginated search. The returned total counts
	// every match regardless of the pagination window.
	Search(ctx context.Context, req SearchRequest) (total int, docs []Document, err error)

	// Close releases the underlying index resources.
	Close() error
}

// BuildMetaDocument projects an entity into its meta document, injecting
// the derived fields (subpath, resource_type, numeric timestamps).
func BuildMetaDocument(space, subpath string, res core.Resource) Document {
	base := res.Base()
	rt := core.ResourceTypeOf(res)

	fields := map[string]any{
		"uuid":            base.UUID.String(),
		"shortname":       base.Shortname,
		"subpath":         subpath,
		"resource_type":   string(rt),
		"created_at":      float64(base.CreatedAt.UnixNano()) / float64(time.Second),
		"updated_at":      float64(base.UpdatedAt.UnixNano()) / float64(time.Second),
		"owner_shortname": base.OwnerShortname,
	}
	if base.Displayname != "" {
		fields["displayname"] = base.Displayname
	}
	if base.Description != "" {
		fields["description"] = base.Description
	}
	if len(base.Tags) > 0 {
		fields[TagsField] = base.Tags
	}
	if base.Payload != nil {
		fields["payload_content_type"] = string(base.Payload.ContentType)
		if base.Payload.SchemaShortname != "" {
			fields["schema_shortname"] = base.Payload.SchemaShortname
		}
	}

	return Document{
		ID:        DocID(space, MetaIndexName, subpath, base.Shortname),
		Space:     space,
		Index:     MetaIndexName,
		Subpath:   subpath,
		Shortname: base.Shortname,
		Fields:    fields,
	}
}

// BuildPayloadDocument flattens a JSON payload into its schema index
// document. Schema-declared properties are flattened to dotted key names;
// the owning meta document id rides along for hit resolution.
//
// With no field definitions (the schema index has not been explicitly
// created yet), every scalar leaf of the body is flattened instead, so
// payloads saved before the first reindex run stay searchable.
func BuildPayloadDocument(space, schemaName, subpath, shortname string, fields []schema.Field, body map[string]any) Document {
	doc := Document{
		ID:        DocID(space, schemaName, subpath, shortname),
		Space:     space,
		Index:     schemaName,
		Subpath:   subpath,
		Shortname: shortname,
		Fields:    map[string]any{},
	}

	if len(fields) == 0 {
		flattenInto(doc.Fields, "", body)
	} else {
		for _, field := range fields {
			if value, ok := lookupPath(body, field.Path); ok {
				doc.Fields[field.Name] = value
			}
		}
	}

	doc.Fields["subpath"] = subpath
	doc.Fields["shortname"] = shortname
	doc.Fields["resource_type"] = string(core.TypeContent)
	doc.Fields[MetaDocIDField] = DocID(space, MetaIndexName, subpath, shortname)

	return doc
}

// flattenInto collects the scalar leaves of a nested document under
// underscore-joined key names, matching the schema-derived field naming.
func flattenInto(fields map[string]any, prefix string, body map[string]any) {
	for key, value := range body {
		name := key
		if prefix != "" {
			name = prefix + "_" + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenInto(fields, name, v)
		case string, bool, float64, []any, []string:
			fields[name] = v
		}
	}
}

// lookupPath resolves a dotted key chain in a nested document.
func lookupPath(body map[string]any, path string) (any, bool) {
	current := any(body)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1

		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
