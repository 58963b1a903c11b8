package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/dmartio/datamart/pkg/api"
)

// The resource type registry maps string type tags to the capability set
// every concrete kind implements: materializing a typed entity from a
// generic record, and serializing it back. The mapping is an explicit closed
// table populated at init; unknown tags fail deterministically instead of
// dispatching to a default.

// definition holds the per-kind capability entries.
type definition struct {
	// factory returns a fresh zero entity of the kind.
	factory func() Resource

	// buildPayload consumes kind-specific payload attributes from attrs
	// (deleting consumed keys) and constructs the payload descriptor.
	buildPayload func(base *Meta, attrs map[string]any) error

	// surfaceExtras re-surfaces kind-specific typed fields back into an
	// attributes map when serializing to a record.
	surfaceExtras func(res Resource, attrs map[string]any)
}

var definitions = map[ResourceType]definition{
	TypeFolder:  {factory: func() Resource { return &Folder{} }},
	TypeSchema:  {factory: func() Resource { return &Schema{} }},
	TypeActor:   {factory: func() Resource { return &Actor{} }},
	TypeGroup:   {factory: func() Resource { return &Group{} }},
	TypeComment: {factory: func() Resource { return &Comment{} }},
	TypeSpace: {
		factory: func() Resource { return &Space{} },
		surfaceExtras: func(res Resource, attrs map[string]any) {
			sp := res.(*Space)
			attrs["indexing_enabled"] = sp.IndexingEnabled
			if len(sp.Languages) > 0 {
				attrs["languages"] = sp.Languages
			}
		},
	},
	TypeContent: {
		factory:      func() Resource { return &Content{} },
		buildPayload: contentPayload,
	},
	TypeMedia: {
		factory:      func() Resource { return &Media{} },
		buildPayload: mediaPayload,
	},
	TypeUser: {
		factory: func() Resource { return &User{} },
		surfaceExtras: func(res Resource, attrs map[string]any) {
			u := res.(*User)
			if u.Password != "" {
				attrs["password"] = u.Password
			}
			if u.Email != "" {
				attrs["email"] = u.Email
			}
		},
	},
	TypeRelationship: {
		factory: func() Resource { return &Relationship{} },
		surfaceExtras: func(res Resource, attrs map[string]any) {
			rel := res.(*Relationship)
			if rel.RelatedTo != nil {
				attrs["related_to"] = rel.RelatedTo
			}
		},
	},
	TypeAlteration: {
		factory: func() Resource { return &Alteration{} },
		surfaceExtras: func(res Resource, attrs map[string]any) {
			alt := res.(*Alteration)
			if alt.User != nil {
				attrs["user"] = alt.User
			}
			if alt.PreviousAlteration != uuid.Nil {
				attrs["previous_alteration"] = alt.PreviousAlteration
			}
			if len(alt.Diff) > 0 {
				attrs["diff"] = alt.Diff
			}
		},
	},
}

// NewResource returns a fresh zero entity for the tag.
func NewResource(rt ResourceType) (Resource, error) {
	def, ok := definitions[rt]
	if !ok {
		return nil, api.UnknownResourceType(string(rt))
	}
	return def.factory(), nil
}

// ResourceTypeOf returns the registered tag for a concrete entity.
func ResourceTypeOf(res Resource) ResourceType {
	switch res.(type) {
	case *Folder:
		return TypeFolder
	case *Schema:
		return TypeSchema
	case *Content:
		return TypeContent
	case *Media:
		return TypeMedia
	case *User:
		return TypeUser
	case *Group:
		return TypeGroup
	case *Actor:
		return TypeActor
	case *Comment:
		return TypeComment
	case *Relationship:
		return TypeRelationship
	case *Alteration:
		return TypeAlteration
	case *Space:
		return TypeSpace
	default:
		panic(fmt.Sprintf("unregistered resource type %T", res))
	}
}

// FromRecord materializes a typed entity from a generic record.
//
// The acting principal's shortname is recorded as the owner. Known attribute
// keys are decoded into typed fields; every remaining attribute lands in
// Meta.Attributes unchanged, so ToRecord restores it byte-for-byte.
func FromRecord(rec api.Record, actingShortname string) (Resource, error) {
	rt, ok := ParseResourceType(rec.ResourceType)
	if !ok {
		return nil, api.UnknownResourceType(rec.ResourceType)
	}
	def := definitions[rt]

	res := def.factory()
	base := res.Base()
	*base = NewMeta(rec.Shortname, actingShortname)
	if rec.UUID != uuid.Nil {
		base.UUID = rec.UUID
	}

	attrs := make(map[string]any, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}

	if def.buildPayload != nil {
		if err := def.buildPayload(base, attrs); err != nil {
			return nil, err
		}
	}

	// A fully-formed payload descriptor may also arrive as-is, e.g. when a
	// record produced by ToRecord is submitted back.
	if base.Payload == nil {
		if raw, ok := attrs["payload"]; ok {
			payload, err := decodePayload(raw)
			if err != nil {
				return nil, err
			}
			base.Payload = payload
			delete(attrs, "payload")
		}
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           res,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       stringToUUIDHook,
	})
	if err != nil {
		return nil, api.Internal("building record decoder", err)
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, api.Validation("malformed record attributes: " + err.Error())
	}

	// Everything the typed decode did not claim rounds into Attributes.
	for _, key := range md.Unused {
		if strings.Contains(key, ".") {
			continue
		}
		if base.Attributes == nil {
			base.Attributes = map[string]any{}
		}
		base.Attributes[key] = attrs[key]
	}

	return res, nil
}

// ToRecord serializes a typed entity back into the generic wire shape.
//
// Every field outside the fixed Meta schema is pulled back into attributes;
// displayname, description, tags and payload are re-surfaced when present.
func ToRecord(res Resource, subpath string) api.Record {
	base := res.Base()
	rt := ResourceTypeOf(res)

	attrs := make(map[string]any, len(base.Attributes)+6)
	for k, v := range base.Attributes {
		attrs[k] = v
	}
	attrs["is_active"] = base.IsActive
	if base.Displayname != "" {
		attrs["displayname"] = base.Displayname
	}
	if base.Description != "" {
		attrs["description"] = base.Description
	}
	if len(base.Tags) > 0 {
		attrs["tags"] = base.Tags
	}
	if base.Payload != nil {
		attrs["payload"] = base.Payload
	}
	if def := definitions[rt]; def.surfaceExtras != nil {
		def.surfaceExtras(res, attrs)
	}

	return api.Record{
		ResourceType: string(rt),
		UUID:         base.UUID,
		Shortname:    base.Shortname,
		Subpath:      subpath,
		Attributes:   attrs,
	}
}

// decodePayload accepts either a *Payload (in-process round trip) or a
// generic map (wire round trip).
func decodePayload(raw any) (*Payload, error) {
	switch v := raw.(type) {
	case *Payload:
		clone := *v
		return &clone, nil
	case Payload:
		clone := v
		return &clone, nil
	case map[string]any:
		var payload Payload
		if err := mapstructure.Decode(v, &payload); err != nil {
			return nil, api.Validation("malformed payload descriptor: " + err.Error())
		}
		if !ValidContentType(payload.ContentType) {
			return nil, api.Validation("unknown payload content type: " + string(payload.ContentType))
		}
		return &payload, nil
	default:
		return nil, api.Validation("payload attribute must be an object")
	}
}

// contentPayload pulls a "body" attribute into an inline payload. Maps
// become JSON payloads (optionally schema-bound via "schema_shortname");
// strings are stored as markdown text.
func contentPayload(base *Meta, attrs map[string]any) error {
	body, ok := attrs["body"]
	if !ok {
		return nil
	}
	delete(attrs, "body")

	payload := &Payload{Body: body}
	switch body.(type) {
	case map[string]any:
		payload.ContentType = ContentTypeJSON
	case string:
		payload.ContentType = ContentTypeMarkdown
	default:
		return api.Validation("content body must be a string or a JSON object")
	}
	if schema, ok := attrs["schema_shortname"].(string); ok {
		payload.SchemaShortname = schema
		delete(attrs, "schema_shortname")
	}
	base.Payload = payload
	return nil
}

// mediaPayload expects a "filename" attribute naming the companion file the
// binary body will be uploaded to.
func mediaPayload(base *Meta, attrs map[string]any) error {
	name, ok := attrs["filename"]
	if !ok {
		return nil
	}
	filename, isString := name.(string)
	if !isString || filename == "" {
		return api.Validation("media filename must be a non-empty string")
	}
	delete(attrs, "filename")

	base.Payload = &Payload{
		ContentType: ContentTypeForFilename(filename),
		Body:        filename,
	}
	return nil
}

// ContentTypeForFilename derives a content type tag from a filename
// extension. Unknown extensions are treated as text.
func ContentTypeForFilename(filename string) ContentType {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ContentTypeText
	}
	switch strings.ToLower(filename[idx+1:]) {
	case "png", "jpg", "jpeg", "gif", "webp", "svg":
		return ContentTypeImage
	case "json":
		return ContentTypeJSON
	case "md", "markdown":
		return ContentTypeMarkdown
	default:
		return ContentTypeText
	}
}

// stringToUUIDHook decodes string attribute values into uuid.UUID fields.
var stringToUUIDHook = mapstructure.DecodeHookFuncType(func(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(uuid.UUID{}) {
		return data, nil
	}
	return uuid.Parse(data.(string))
})
