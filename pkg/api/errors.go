package api

import "errors"

// Error represents a domain error from the storage core.
//
// These are business errors (entity not found, shortname collision, payload
// failed schema validation, ...) as opposed to infrastructure errors (disk
// failure, index unavailable). Adapters translate the Kind to transport
// status codes; the core itself never speaks HTTP.
type Error struct {
	// Kind is the error category.
	Kind ErrorKind

	// Code is a stable numeric identifier for the specific failure.
	Code int

	// Message is a human-readable description.
	Message string

	// Path is the filesystem path or entity address related to the error,
	// when one applies. Helps operators locate the offending file.
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorKind is the category of a domain error.
type ErrorKind int

const (
	// ErrNotFound indicates the entity/metadata file is absent where
	// presence was required.
	ErrNotFound ErrorKind = iota

	// ErrAlreadyExists indicates a create collided with an existing entity.
	ErrAlreadyExists

	// ErrValidation indicates a payload failed JSON-Schema validation or a
	// request is structurally malformed.
	ErrValidation

	// ErrPrecondition indicates an operation requires a prior step not yet
	// done, e.g. a payload upload before the metadata exists.
	ErrPrecondition

	// ErrUnsupportedMediaType indicates an uploaded content type is not in
	// the accepted set.
	ErrUnsupportedMediaType

	// ErrUnknownResourceType indicates a resource type tag outside the
	// closed registry.
	ErrUnknownResourceType

	// ErrMoveTargetMissing indicates a move requested without any
	// destination coordinate.
	ErrMoveTargetMissing

	// ErrNotSupported indicates a reserved operation that is intentionally
	// unimplemented (events/history/tags query types).
	ErrNotSupported

	// ErrInternal indicates an unexpected failure, e.g. a filesystem I/O
	// error not otherwise classified.
	ErrInternal
)

// String returns the wire-level type tag for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrValidation:
		return "validation"
	case ErrPrecondition:
		return "precondition_failed"
	case ErrUnsupportedMediaType:
		return "unsupported_media_type"
	case ErrUnknownResourceType:
		return "unknown_resource_type"
	case ErrMoveTargetMissing:
		return "move_target_missing"
	case ErrNotSupported:
		return "not_supported"
	case ErrInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// IsKind reports whether err is a domain *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// NotFound builds a not-found error for the given path.
func NotFound(message, path string) *Error {
	return &Error{Kind: ErrNotFound, Code: 404, Message: message, Path: path}
}

// AlreadyExists builds a collision error for the given path.
func AlreadyExists(message, path string) *Error {
	return &Error{Kind: ErrAlreadyExists, Code: 409, Message: message, Path: path}
}

// Validation builds a validation error.
func Validation(message string) *Error {
	return &Error{Kind: ErrValidation, Code: 422, Message: message}
}

// Precondition builds a precondition-failed error.
func Precondition(message, path string) *Error {
	return &Error{Kind: ErrPrecondition, Code: 412, Message: message, Path: path}
}

// UnsupportedMediaType builds an unsupported-media-type error.
func UnsupportedMediaType(message string) *Error {
	return &Error{Kind: ErrUnsupportedMediaType, Code: 415, Message: message}
}

// UnknownResourceType builds an unknown-resource-type error for the tag.
func UnknownResourceType(tag string) *Error {
	return &Error{Kind: ErrUnknownResourceType, Code: 422, Message: "unknown resource type: " + tag}
}

// MoveTargetMissing builds the error for a move without any destination.
func MoveTargetMissing() *Error {
	return &Error{Kind: ErrMoveTargetMissing, Code: 422, Message: "move requires a destination subpath or shortname"}
}

// NotSupported builds the error for reserved, unimplemented operations.
func NotSupported(what string) *Error {
	return &Error{Kind: ErrNotSupported, Code: 501, Message: what + " is not supported"}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	if err != nil {
		message = message + ": " + err.Error()
	}
	return &Error{Kind: ErrInternal, Code: 500, Message: message}
}
