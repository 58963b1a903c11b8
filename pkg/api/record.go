// Package api defines the wire-level contracts between the storage core and
// its adapters: the generic Record representation of an entity, the Query
// envelope for read operations, the Response envelope, and the domain error
// taxonomy.
//
// The core consumes and produces these values; it never serves them over a
// network itself.
package api

import (
	"time"

	"github.com/google/uuid"
)

// Record is the generic, type-tag-plus-attributes representation of any
// entity. It is used both as input (create/update/delete/move requests) and
// as output (query results).
//
// Conversion between Record and a typed Meta entity is the resource type
// registry's responsibility; every attribute that is not part of the fixed
// Meta field set must survive a round trip through Attributes unchanged.
type Record struct {
	// ResourceType is the string tag dispatching to a registered kind.
	ResourceType string `json:"resource_type"`

	// UUID identifies the entity. Optional on input; assigned on create.
	UUID uuid.UUID `json:"uuid,omitempty"`

	// Shortname is the human-facing primary key within the addressing scope.
	Shortname string `json:"shortname"`

	// Subpath addresses the entity's location within its space. For
	// attachments the last segment is the parent entity's shortname.
	Subpath string `json:"subpath"`

	// Attributes carries every field outside the fixed addressing set.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Attachments groups child attachment records by resource type tag.
	// Only populated on query output when attachment aggregation ran.
	Attachments map[string][]Record `json:"attachments,omitempty"`
}

// QueryType enumerates the closed set of query kinds.
type QueryType string

const (
	QuerySubpath QueryType = "subpath"
	QuerySearch  QueryType = "search"
	QuerySpaces  QueryType = "spaces"
	QueryEvents  QueryType = "events"
	QueryHistory QueryType = "history"
	QueryTags    QueryType = "tags"
)

// Query is the read-operation envelope.
type Query struct {
	// Type selects the query kind.
	Type QueryType `json:"type" validate:"required"`

	// SpaceName is the tenant to query.
	SpaceName string `json:"space_name" validate:"required"`

	// Subpath is the logical directory to query (subpath queries) or a
	// filter on document subpaths (search queries).
	Subpath string `json:"subpath"`

	// Filters. Empty slices mean "no constraint".
	ResourceTypes      []string `json:"filter_types,omitempty"`
	ResourceShortnames []string `json:"filter_shortnames,omitempty"`
	Tags               []string `json:"filter_tags,omitempty"`

	// Search is the free-text search string for search queries.
	Search string `json:"search,omitempty"`

	// SchemaName selects which index to search. Empty means the meta index.
	SchemaName string `json:"schema_name,omitempty"`

	// Date range filters (reserved for events/history).
	FromDate *time.Time `json:"from_date,omitempty"`
	ToDate   *time.Time `json:"to_date,omitempty"`

	// Field projection lists, applied by adapters.
	ExcludeFields []string `json:"exclude_fields,omitempty"`
	IncludeFields []string `json:"include_fields,omitempty"`

	// SortBy names a field to order results by. A leading '-' reverses the
	// order. Empty leaves the engine's stable default order.
	SortBy string `json:"sort_by,omitempty"`

	// RetrieveJSONPayload inlines a JSON payload body into
	// attributes["payload"] of each returned record.
	RetrieveJSONPayload bool `json:"retrieve_json_payload,omitempty"`

	// Pagination window, applied after filtering.
	Limit  int `json:"limit" validate:"gte=0"`
	Offset int `json:"offset" validate:"gte=0"`
}

// Status is the outcome tag of a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// ResponseError is the structured error body inside a failed Response.
type ResponseError struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope produced for adapters.
type Response struct {
	Status  Status         `json:"status"`
	Error   *ResponseError `json:"error,omitempty"`
	Records []Record       `json:"records,omitempty"`

	// Attributes carries free-form response metadata, e.g.
	// {"total": 10, "returned": 3} for paginated queries.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Success builds a success response carrying records and pagination totals.
func Success(records []Record, total int) *Response {
	return &Response{
		Status:  StatusSuccess,
		Records: records,
		Attributes: map[string]any{
			"total":    total,
			"returned": len(records),
		},
	}
}

// Failed wraps a domain error into a failed response.
func Failed(err error) *Response {
	resp := &Response{Status: StatusFailed}
	if de, ok := err.(*Error); ok {
		resp.Error = &ResponseError{Type: de.Kind.String(), Code: de.Code, Message: de.Error()}
	} else {
		resp.Error = &ResponseError{Type: ErrInternal.String(), Code: 500, Message: err.Error()}
	}
	return resp
}
