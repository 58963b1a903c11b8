package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payload describes the optional content body of an entity: either an inline
// value or a pointer to a companion file next to the entity's metadata.
type Payload struct {
	// ContentType tags the body format.
	ContentType ContentType `json:"content_type" mapstructure:"content_type"`

	// SchemaShortname references a schema entity in the space's schema
	// collection that the body must validate against. JSON payloads only.
	SchemaShortname string `json:"schema_shortname,omitempty" mapstructure:"schema_shortname"`

	// Checksum is a content digest of a companion file, in the form
	// "sha1:<hex>". Set when the payload was streamed from an upload.
	Checksum string `json:"checksum,omitempty" mapstructure:"checksum"`

	// Body is either an inline value (string or JSON object) or the
	// filename of the companion file.
	Body any `json:"body,omitempty" mapstructure:"body"`
}

// Meta is the base of every persisted resource type.
//
// Fields holding their empty sentinel are omitted from the written JSON so
// that files stay minimal and defaults do not leak back into attribute
// reconstruction.
type Meta struct {
	// UUID is generated once at creation and never changes.
	UUID uuid.UUID `json:"uuid"`

	// Shortname is the human-facing primary key, unique within the
	// entity's addressing scope.
	Shortname string `json:"shortname" mapstructure:"-"`

	IsActive    bool     `json:"is_active" mapstructure:"is_active"`
	Displayname string   `json:"displayname,omitempty" mapstructure:"displayname"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Tags        []string `json:"tags,omitempty" mapstructure:"tags"`

	CreatedAt time.Time `json:"created_at" mapstructure:"-"`
	UpdatedAt time.Time `json:"updated_at" mapstructure:"-"`

	// OwnerShortname records the creating principal. Immutable after
	// creation; the core records it, it never authenticates it.
	OwnerShortname string `json:"owner_shortname" mapstructure:"-"`

	Payload *Payload `json:"payload,omitempty" mapstructure:"-"`

	// Attributes carries every wire attribute that is not part of the
	// fixed Meta field set, so records round-trip losslessly.
	Attributes map[string]any `json:"attributes,omitempty" mapstructure:"-"`
}

// NewMeta initializes the base fields of a fresh entity.
func NewMeta(shortname, owner string) Meta {
	now := time.Now().UTC()
	return Meta{
		UUID:           uuid.New(),
		Shortname:      shortname,
		OwnerShortname: owner,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Touch refreshes the modification timestamp. Called on every mutation.
func (m *Meta) Touch() {
	m.UpdatedAt = time.Now().UTC()
}

// Base returns the embedded Meta; satisfies the Resource interface for the
// base type itself.
func (m *Meta) Base() *Meta { return m }

// CompanionFilename returns the name of the entity's payload companion
// file, or "" when the payload body is inline or absent.
//
// Companion files are always stored as "<shortname>.<ext>", so a string
// body is a companion pointer exactly when it carries the entity's own
// shortname as its stem. Inline text bodies (markdown comments and the
// like) fail that test and stay inline.
func (m *Meta) CompanionFilename() string {
	if m.Payload == nil {
		return ""
	}
	name, ok := m.Payload.Body.(string)
	if !ok || !strings.HasPrefix(name, m.Shortname+".") {
		return ""
	}
	if strings.ContainsAny(name, " \t\n/") {
		return ""
	}
	return name
}

// HasTag reports whether the entity's tag set intersects the given set.
// An empty filter set matches everything.
func (m *Meta) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range m.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Resource is implemented by every concrete entity kind.
type Resource interface {
	Base() *Meta
}

// Locator is a lightweight reference to an entity. It never owns data; it is
// used for cross-references (e.g. a Relationship target) and lightweight
// listings.
type Locator struct {
	UUID            uuid.UUID    `json:"uuid,omitempty" mapstructure:"uuid"`
	Space           string       `json:"space_name,omitempty" mapstructure:"space_name"`
	Type            ResourceType `json:"type" mapstructure:"type"`
	Subpath         string       `json:"subpath" mapstructure:"subpath"`
	Shortname       string       `json:"shortname" mapstructure:"shortname"`
	ParentShortname string       `json:"parent_shortname,omitempty" mapstructure:"parent_shortname"`
	Displayname     string       `json:"displayname,omitempty" mapstructure:"displayname"`
	Description     string       `json:"description,omitempty" mapstructure:"description"`
}

// Concrete resource kinds. Each embeds Meta; kind-specific fields carry
// mapstructure tags so the registry can decode them from record attributes.

// Folder is a directory marker. Its own metadata lives inside the directory
// it names.
type Folder struct {
	Meta `mapstructure:",squash"`
}

// Content is a generic schema-validated JSON or markdown/text resource.
type Content struct {
	Meta `mapstructure:",squash"`
}

// Schema is a JSON-Schema document used to validate other content payloads.
type Schema struct {
	Meta `mapstructure:",squash"`
}

// Actor is the base identity kind.
type Actor struct {
	Meta `mapstructure:",squash"`
}

// User is an identity entity with credentials.
type User struct {
	Meta     `mapstructure:",squash"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	Email    string `json:"email,omitempty" mapstructure:"email"`
}

// Group is an identity grouping entity.
type Group struct {
	Meta `mapstructure:",squash"`
}

// Comment is a textual attachment.
type Comment struct {
	Meta `mapstructure:",squash"`
}

// Media is a binary attachment whose payload body names its companion file.
type Media struct {
	Meta `mapstructure:",squash"`
}

// Relationship is an attachment linking its parent to another entity.
type Relationship struct {
	Meta      `mapstructure:",squash"`
	RelatedTo *Locator `json:"related_to,omitempty" mapstructure:"related_to"`
}

// Alteration is an attachment recording a historical change to its parent.
type Alteration struct {
	Meta               `mapstructure:",squash"`
	User               *Locator       `json:"user,omitempty" mapstructure:"user"`
	PreviousAlteration uuid.UUID      `json:"previous_alteration,omitempty" mapstructure:"previous_alteration"`
	Diff               map[string]any `json:"diff,omitempty" mapstructure:"diff"`
}

// Space is the tenant descriptor. Operator-created; read-only to the core at
// runtime except for the indexing flag.
type Space struct {
	Meta            `mapstructure:",squash"`
	IndexingEnabled bool       `json:"indexing_enabled" mapstructure:"indexing_enabled"`
	Languages       []Language `json:"languages,omitempty" mapstructure:"languages"`
}
