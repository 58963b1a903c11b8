// Package core defines the persisted entity model: the Meta base type, its
// concrete resource kinds, payload descriptors, locators, and the resource
// type registry that converts between typed entities and generic records.
package core

import "strings"

// ResourceType tags the concrete kind of a persisted entity. The set is
// closed; dispatch on unknown tags fails rather than falling back.
type ResourceType string

const (
	TypeUser         ResourceType = "user"
	TypeGroup        ResourceType = "group"
	TypeActor        ResourceType = "actor"
	TypeFolder       ResourceType = "folder"
	TypeSchema       ResourceType = "schema"
	TypeContent      ResourceType = "content"
	TypeComment      ResourceType = "comment"
	TypeMedia        ResourceType = "media"
	TypeRelationship ResourceType = "relationship"
	TypeAlteration   ResourceType = "alteration"
	TypeSpace        ResourceType = "space"
)

// attachmentTypes is the attachment family: kinds that exist only as
// children of a non-attachment parent and follow the attachment path
// convention.
var attachmentTypes = map[ResourceType]bool{
	TypeComment:      true,
	TypeMedia:        true,
	TypeRelationship: true,
	TypeAlteration:   true,
}

// IsAttachment reports whether the type belongs to the attachment family.
func (rt ResourceType) IsAttachment() bool {
	return attachmentTypes[rt]
}

// String returns the wire tag.
func (rt ResourceType) String() string {
	return string(rt)
}

// ParseResourceType normalizes and checks a string tag against the closed
// set. The boolean is false for unrecognized tags.
func ParseResourceType(tag string) (ResourceType, bool) {
	rt := ResourceType(strings.ToLower(tag))
	switch rt {
	case TypeUser, TypeGroup, TypeActor, TypeFolder, TypeSchema, TypeContent,
		TypeComment, TypeMedia, TypeRelationship, TypeAlteration, TypeSpace:
		return rt, true
	}
	return "", false
}

// ContentType tags the format of a payload body.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeJSON     ContentType = "json"
	ContentTypeImage    ContentType = "image"
)

// ValidContentType reports whether ct is one of the accepted content types.
func ValidContentType(ct ContentType) bool {
	switch ct {
	case ContentTypeText, ContentTypeMarkdown, ContentTypeJSON, ContentTypeImage:
		return true
	}
	return false
}

// Language enumerates the languages a space may declare support for.
type Language string

const (
	LanguageArabic  Language = "arabic"
	LanguageEnglish Language = "english"
	LanguageKurdish Language = "kurdish"
	LanguageFrench  Language = "french"
	LanguageTurkish Language = "turkish"
)

// RequestType enumerates the mutating request kinds an adapter may submit.
type RequestType string

const (
	RequestCreate RequestType = "create"
	RequestUpdate RequestType = "update"
	RequestDelete RequestType = "delete"
	RequestMove   RequestType = "move"
)
